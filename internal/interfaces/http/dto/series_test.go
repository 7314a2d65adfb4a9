package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/domain/entity"
)

func TestApplySeriesPatch(t *testing.T) {
	s := entity.NewSeries("The Ashen Crown", "fantasy", 5, entity.SeriesConfig{Pacing: "slow-burn"})
	s.Version = 9

	err := ApplySeriesPatch(s, []byte(`[
		{"op": "replace", "path": "/title", "value": "The Ashen Throne"},
		{"op": "replace", "path": "/target_book_count", "value": 7},
		{"op": "add", "path": "/config/tone", "value": "grim"}
	]`))
	require.NoError(t, err)

	assert.Equal(t, "The Ashen Throne", s.Title)
	assert.Equal(t, 7, s.TargetBookCount)
	assert.Equal(t, "grim", s.Config.Tone)
	assert.Equal(t, "slow-burn", s.Config.Pacing)
	assert.Equal(t, entity.LockSuggestion, s.Config.DefaultLockLevel)
	assert.Equal(t, int64(9), s.Version)
}

func TestApplySeriesPatchRejects(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{"empty body", ``},
		{"not an array", `{"op": "replace"}`},
		{"remove op", `[{"op": "remove", "path": "/genre"}]`},
		{"lock level is not patchable", `[{"op": "replace", "path": "/config/default_lock_level", "value": "hard"}]`},
		{"version is not patchable", `[{"op": "replace", "path": "/version", "value": 1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := entity.NewSeries("The Ashen Crown", "fantasy", 5, entity.SeriesConfig{})
			before := *s

			assert.Error(t, ApplySeriesPatch(s, []byte(tt.patch)))
			assert.Equal(t, before, *s)
		})
	}
}

func TestApplySeriesPatchEmptyOps(t *testing.T) {
	s := entity.NewSeries("The Ashen Crown", "fantasy", 5, entity.SeriesConfig{})
	assert.NoError(t, ApplySeriesPatch(s, []byte(`[]`)))
	assert.Equal(t, "The Ashen Crown", s.Title)
}
