package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvalidator struct {
	prefixes []string
	err      error
}

func (f *fakeInvalidator) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return 3, f.err
}

func changeMessage(t *testing.T, change CanonChangeMessage) *Message {
	t.Helper()
	msg, err := NewMessage("m-1", TypeCanonChange, change.SeriesID, change)
	require.NoError(t, err)
	return msg
}

func TestCacheInvalidationHandler(t *testing.T) {
	ctx := context.Background()
	cache := &fakeInvalidator{}
	handle := CacheInvalidationHandler(cache)

	require.NoError(t, handle(ctx, changeMessage(t, CanonChangeMessage{SeriesID: "s-1", Kind: "commit", Version: 7})))
	assert.Equal(t, []string{"genctx:s-1:"}, cache.prefixes)

	// 缺少系列或载荷损坏的消息直接确认
	require.NoError(t, handle(ctx, changeMessage(t, CanonChangeMessage{Kind: "commit"})))
	require.NoError(t, handle(ctx, &Message{ID: "bad", Type: TypeCanonChange, Payload: json.RawMessage(`"not an object"`)}))
	assert.Len(t, cache.prefixes, 1)
}

func TestCacheInvalidationHandlerRetriesOnCacheError(t *testing.T) {
	cache := &fakeInvalidator{err: errors.New("redis down")}
	err := CacheInvalidationHandler(cache)(context.Background(), changeMessage(t, CanonChangeMessage{SeriesID: "s-1"}))
	assert.ErrorContains(t, err, "redis down")
}

func TestMessageStreamEncoding(t *testing.T) {
	msg := changeMessage(t, CanonChangeMessage{SeriesID: "s-1", Kind: "revision", Version: 2, RevisionRequestID: "r-1"})
	msg.SetMetadata("trace_id", "abc")
	msg.SetMetadata("actor", "")

	values, err := msg.encode()
	require.NoError(t, err)

	decoded, ok := decodeMessage(values)
	require.True(t, ok)
	assert.Equal(t, "abc", decoded.GetMetadata("trace_id"))
	assert.Empty(t, decoded.GetMetadata("actor"))

	var change CanonChangeMessage
	require.NoError(t, decoded.UnmarshalPayload(&change))
	assert.Equal(t, "r-1", change.RevisionRequestID)

	_, ok = decodeMessage(map[string]interface{}{"data": "{broken"})
	assert.False(t, ok)
	_, ok = decodeMessage(map[string]interface{}{"other": "x"})
	assert.False(t, ok)
}

func TestConsumerGroupPrefix(t *testing.T) {
	assert.Equal(t, ConsumerGroup("z-canon:cg-cache-invalidator"), ConsumerGroupCacheInvalidator.WithPrefix("z-canon"))
	assert.Equal(t, ConsumerGroupAuditArchiver, ConsumerGroupAuditArchiver.WithPrefix(""))
	assert.Equal(t, "dlq:stream:canon:change", StreamCanonChange.DLQStream())
}

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(2))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(3))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(10))
}
