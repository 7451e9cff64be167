package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// KindSaleReport feeds a finalized sale into the daily report.
const KindSaleReport = "report:sale"

// DefaultQueue is the asynq queue tasks land in when none is configured.
const DefaultQueue = "default"

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

// Client is the enqueue side of *asynq.Client.
type Client interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes tasks to asynq queues.
type Enqueuer struct {
	Client Client
	Queue  string
	// DedupTTL keeps finished tasks around so a repeated idempotency key is
	// still rejected for that long.
	DedupTTL time.Duration
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.Client == nil {
		return errors.New("queue: client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	maxAttempts := t.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	ttl := e.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts := []asynq.Option{
		asynq.Queue(e.queue()),
		asynq.MaxRetry(maxAttempts - 1),
		asynq.Retention(ttl),
	}
	if t.IdempotencyKey != "" {
		opts = append(opts, asynq.TaskID(fmt.Sprintf("%s:%s", kind, t.IdempotencyKey)))
	}
	if t.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(t.Delay))
	}
	_, err := e.Client.EnqueueContext(ctx, asynq.NewTask(kind, t.Payload), opts...)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask):
		EnqueuedTotal.WithLabelValues(kind, "duplicate").Inc()
		return nil
	case err != nil:
		EnqueuedTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("queue: enqueue %s: %w", kind, err)
	}
	EnqueuedTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}

func (e Enqueuer) queue() string {
	if e.Queue == "" {
		return DefaultQueue
	}
	return e.Queue
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func queueLabel(name string) string {
	if name == "" {
		return DefaultQueue
	}
	return name
}
