package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter("debug", "json", &buf)
	t.Cleanup(func() { Init("info", "json") })
	return &buf
}

func TestFromContextAddsKnownKeys(t *testing.T) {
	buf := capture(t)

	ctx := WithSeries(context.Background(), "s-1")
	ctx = WithContext(ctx, ActorKey, "editor")
	Info(ctx, "facts committed", "events", 2)

	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, `"series_id":"s-1"`))
	assert.Contains(t, line, `"actor":"editor"`)
	assert.Contains(t, line, `"events":2`)
	assert.NotContains(t, line, "request_id")
}

func TestWithSeriesIgnoresEmptyID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithSeries(ctx, ""))
}

func TestErrorAppendsErrorField(t *testing.T) {
	buf := capture(t)

	Error(context.Background(), "publish failed", assert.AnError, "kind", "commit")
	line := buf.String()
	require.NotEmpty(t, line)
	assert.Contains(t, line, `"level":"ERROR"`)
	assert.Contains(t, line, `"error":"`+assert.AnError.Error()+`"`)
}
