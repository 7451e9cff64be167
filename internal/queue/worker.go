package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/resilience"
)

// HandlerFunc processes one task.
type HandlerFunc func(ctx context.Context, task Task) error

// WorkerConfig tunes the asynq server.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	RetryBase   time.Duration
	RetryJitter float64
}

// Handle adapts fn to asynq, recording the outcome per kind.
func Handle(kind string, fn HandlerFunc) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		task := Task{Kind: t.Type(), Payload: t.Payload()}
		if id, ok := asynq.GetTaskID(ctx); ok {
			task.IdempotencyKey = id
		}
		if retries, ok := asynq.GetMaxRetry(ctx); ok {
			task.MaxAttempts = retries + 1
		}
		err := fn(ctx, task)
		status := "ok"
		if err != nil {
			status = "error"
		}
		ProcessedTotal.WithLabelValues(kind, status).Inc()
		return err
	})
}

// NewMux registers one handler per task kind.
func NewMux(handlers map[string]HandlerFunc) (*asynq.ServeMux, error) {
	mux := asynq.NewServeMux()
	for kind, fn := range handlers {
		if sanitizeKind(kind) == "" {
			return nil, fmt.Errorf("queue: invalid task kind %q", kind)
		}
		if fn == nil {
			return nil, fmt.Errorf("queue: nil handler for %s", kind)
		}
		mux.Handle(kind, Handle(kind, fn))
	}
	return mux, nil
}

// NewServer builds an asynq server that retries with exponential backoff and
// logs failed attempts.
func NewServer(redisOpt asynq.RedisConnOpt, cfg WorkerConfig, logger *zerolog.Logger) *asynq.Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queueLabel(cfg.Queue): 1},
		RetryDelayFunc: RetryDelay(cfg.RetryBase, cfg.RetryJitter),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			if logger == nil {
				return
			}
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Warn().Err(err).Str("kind", t.Type()).Int("retried", retried).Msg("queue task failed")
		}),
		Logger:   Logger{L: logger},
		LogLevel: asynq.WarnLevel,
	})
}

// RetryDelay grows exponentially with the retry count.
func RetryDelay(base time.Duration, jitter float64) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return resilience.Backoff(base, n+1, jitter)
	}
}

// Logger routes asynq's internal logging through zerolog.
type Logger struct {
	L *zerolog.Logger
}

func (l Logger) log(level zerolog.Level, args ...any) {
	if l.L == nil {
		return
	}
	l.L.WithLevel(level).Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (l Logger) Debug(args ...any) { l.log(zerolog.DebugLevel, args...) }
func (l Logger) Info(args ...any)  { l.log(zerolog.InfoLevel, args...) }
func (l Logger) Warn(args ...any)  { l.log(zerolog.WarnLevel, args...) }
func (l Logger) Error(args ...any) { l.log(zerolog.ErrorLevel, args...) }
func (l Logger) Fatal(args ...any) { l.log(zerolog.FatalLevel, args...) }
