package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegistry_AnyReachableReflectsHeartbeats(t *testing.T) {
	_, client := setupTestRedis(t)
	registry := NewWorkerRegistry(client, "test", nil)

	reachable, err := registry.AnyReachable(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.False(t, reachable)

	require.NoError(t, registry.Heartbeat(context.Background(), QueueOCR, "worker-1", time.Minute))

	reachable, err = registry.AnyReachable(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.True(t, reachable)

	aiReachable, err := registry.AnyReachable(context.Background(), QueueAI)
	require.NoError(t, err)
	assert.False(t, aiReachable, "heartbeat for ocr_queue should not leak into ai_queue")
}

func TestWorkerRegistry_HeartbeatExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	registry := NewWorkerRegistry(client, "test", nil)

	require.NoError(t, registry.Heartbeat(context.Background(), QueueOCR, "worker-1", 50*time.Millisecond))
	mr.FastForward(100 * time.Millisecond)

	reachable, err := registry.AnyReachable(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.False(t, reachable)
}
