package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/resilience"
)

// Broker is the Redis-backed task queue: LPUSH to enqueue, BRPOP to
// dequeue (blocking), one Redis list per QueueName.
type Broker struct {
	client  *redis.Client
	logger  core.Logger
	breaker *resilience.CircuitBreaker
	prefix  string
}

// NewBroker wires a Redis client into a Broker. cb guards Enqueue's LPUSH
// only; Dequeue, Length and Ping call Redis directly. cb may be nil, in
// which case Enqueue is also issued without circuit-breaker protection
// (tests against miniredis commonly do this).
func NewBroker(client *redis.Client, prefix string, logger core.Logger, cb *resilience.CircuitBreaker) *Broker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if prefix == "" {
		prefix = "medlingua"
	}
	return &Broker{client: client, logger: logger, breaker: cb, prefix: prefix}
}

func (b *Broker) key(q QueueName) string {
	return fmt.Sprintf("%s:queue:%s", b.prefix, q)
}

// Enqueue pushes a task onto its routed queue.
func (b *Broker) Enqueue(ctx context.Context, task Task) error {
	if task.ID == "" {
		return errors.New("queue: task ID is required")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: serializing task: %w", err)
	}

	queueKey := b.key(RouteFor(task.Name))
	op := func() error {
		return b.client.LPush(ctx, queueKey, data).Err()
	}
	if b.breaker != nil {
		err = b.breaker.Execute(ctx, op)
	} else {
		err = op()
	}
	if err != nil {
		return fmt.Errorf("queue: enqueuing task %s: %w", task.ID, err)
	}

	b.logger.InfoWithContext(ctx, "task enqueued", map[string]interface{}{
		"task_id": task.ID, "task_name": task.Name, "queue": queueKey,
	})
	return nil
}

// Dequeue blocks (up to timeout) for the next task on the given queue.
// Returns (nil, nil) on timeout with no task available.
func (b *Broker) Dequeue(ctx context.Context, q QueueName, timeout time.Duration) (*Task, error) {
	result, err := b.client.BRPop(ctx, timeout, b.key(q)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("queue: dequeuing from %s: %w", q, err)
	}
	if len(result) < 2 {
		return nil, errors.New("queue: unexpected BRPOP result shape")
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("queue: deserializing task: %w", err)
	}
	return &task, nil
}

// Length reports how many tasks are waiting on a queue.
func (b *Broker) Length(ctx context.Context, q QueueName) (int64, error) {
	return b.client.LLen(ctx, b.key(q)).Result()
}

// Ping verifies the broker is reachable; the HTTP /health handler uses it
// to report Redis status.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
