package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CANON_TEST_HOST", "db.internal")

	tests := []struct {
		in   string
		want string
	}{
		{"host: ${CANON_TEST_HOST}", "host: db.internal"},
		{"host: ${CANON_TEST_HOST:localhost}", "host: db.internal"},
		{"port: ${CANON_TEST_UNSET:5432}", "port: 5432"},
		{"password: ${CANON_TEST_UNSET:}", "password: "},
		{"keep: ${CANON_TEST_UNSET}", "keep: ${CANON_TEST_UNSET}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnv(tt.in))
	}
}

func TestLoadFromMergesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
database:
  driver: postgres
  postgres:
    host: ${CANON_TEST_PG_HOST:localhost}
cache:
  enabled: true
canon:
  max_traversal_depth: 6
  plan_timeout: 2s
`)
	writeConfig(t, dir, "config.test.yaml", `
database:
  driver: memory
cache:
  enabled: false
canon:
  publish_changes: false
`)
	t.Setenv("APP_ENV", "test")
	t.Setenv("CANON_TEST_PG_HOST", "pg.internal")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "pg.internal", cfg.Database.Postgres.Host)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 6, cfg.Canon.MaxTraversalDepth)
	assert.Equal(t, 2*time.Second, cfg.Canon.PlanTimeout)

	// 未配置的键取默认值
	assert.Equal(t, 512, cfg.Canon.MaxImpactNodes)
	assert.Equal(t, 10*time.Minute, cfg.Canon.ContextCacheTTL)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, "z-canon", cfg.Messaging.RedisStream.ConsumerGroupPrefix)
	assert.Equal(t, "z-canon", cfg.Cache.Redis.KeyPrefix)
}

func TestLoadFromRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database:\n  driver: sqlite\n"},
		{"zero depth", "canon:\n  max_traversal_depth: 0\n"},
		{"publish without cache", "cache:\n  enabled: false\ncanon:\n  publish_changes: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "config.yaml", tt.content)
			t.Setenv("APP_ENV", "test")

			_, err := LoadFrom(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromMissingBaseFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)
}
