package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestBroker_EnqueueDequeueRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, "test", nil, nil)

	task := Task{ID: "task-1", Name: TaskProcessDocument, ProcessingID: "proc-1", EnqueuedAt: time.Now()}
	require.NoError(t, broker.Enqueue(context.Background(), task))

	length, err := broker.Length(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	got, err := broker.Dequeue(context.Background(), QueueOCR, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.ProcessingID, got.ProcessingID)
}

func TestBroker_RoutesFeedbackAnalysisToAIQueue(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, "test", nil, nil)

	task := Task{ID: "task-2", Name: TaskAnalyzeFeedback, FeedbackID: 42, EnqueuedAt: time.Now()}
	require.NoError(t, broker.Enqueue(context.Background(), task))

	ocrLen, err := broker.Length(context.Background(), QueueOCR)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ocrLen)

	aiLen, err := broker.Length(context.Background(), QueueAI)
	require.NoError(t, err)
	assert.Equal(t, int64(1), aiLen)
}

func TestBroker_EnqueueRejectsMissingID(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, "test", nil, nil)

	err := broker.Enqueue(context.Background(), Task{Name: TaskProcessDocument})
	assert.Error(t, err)
}

func TestBroker_DequeueReturnsNilOnEmptyQueue(t *testing.T) {
	_, client := setupTestRedis(t)
	broker := NewBroker(client, "test", nil, nil)

	got, err := broker.Dequeue(context.Background(), QueueOCR, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}
