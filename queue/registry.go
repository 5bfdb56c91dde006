package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medlingua/pipeline/core"
)

// WorkerRegistry answers exactly one question the job lifecycle manager's
// enqueue() contract needs: "is at least one worker alive for this
// queue?" It is a deliberately small SET-with-TTL registration,
// SCAN-based lookup heartbeat pattern — this platform has no need for a
// full service-type/capability discovery model, health status enum, or
// service metadata, since a worker here is either consuming a named
// queue or it is not.
type WorkerRegistry struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// NewWorkerRegistry wires a Redis client for worker heartbeats.
func NewWorkerRegistry(client *redis.Client, namespace string, logger core.Logger) *WorkerRegistry {
	if namespace == "" {
		namespace = "medlingua"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WorkerRegistry{client: client, namespace: namespace, logger: logger}
}

func (r *WorkerRegistry) heartbeatKey(queue QueueName, workerID string) string {
	return fmt.Sprintf("%s:workers:%s:%s", r.namespace, queue, workerID)
}

// Heartbeat registers (or refreshes) worker liveness for a queue. Workers
// call this on a ticker; the key's TTL means a crashed worker disappears
// from the registry on its own.
func (r *WorkerRegistry) Heartbeat(ctx context.Context, queue QueueName, workerID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.heartbeatKey(queue, workerID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// AnyReachable reports whether at least one worker heartbeat is currently
// live for the given queue — the check enqueue() performs before handing
// off a job.
func (r *WorkerRegistry) AnyReachable(ctx context.Context, queue QueueName) (bool, error) {
	pattern := fmt.Sprintf("%s:workers:%s:*", r.namespace, queue)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 50).Result()
		if err != nil {
			return false, fmt.Errorf("queue: scanning worker registry: %w", err)
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}
