package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

// RedisAllocator keeps counters in Redis and increments them with an
// optimistic WATCH/MULTI transaction.
type RedisAllocator struct {
	Client      *redis.Client
	Prefix      string
	Width       int
	MaxAttempts int
	Logger      *zerolog.Logger
}

var _ Source = (*RedisAllocator)(nil)

func (a *RedisAllocator) key(name string) string {
	prefix := a.Prefix
	if prefix == "" {
		prefix = "sequence:"
	}
	return prefix + name
}

// Next allocates the number following the counter's last one.
func (a *RedisAllocator) Next(ctx context.Context, name string) (string, error) {
	if a == nil || a.Client == nil {
		return "", errors.New("redis sequence allocator not configured")
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty counter name", ErrAllocation)
	}
	ctx, span := otel.Tracer("sequence.RedisAllocator").Start(ctx, "RedisAllocator.Next")
	defer span.End()
	span.SetAttributes(attribute.String("sequence.name", name))

	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = docstore.DefaultMaxAttempts
	}
	key := a.key(name)
	var next int64
	txf := func(tx *redis.Tx) error {
		last, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next = last + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = a.Client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) || i+1 == attempts {
			break
		}
		if a.Logger != nil {
			a.Logger.Debug().Str("counter", name).Int("attempt", i+1).Msg("sequence watch conflict, retrying")
		}
		if werr := docstore.WaitRetry(ctx, i+1); werr != nil {
			err = werr
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		record(name, "error")
		if errors.Is(err, redis.TxFailedErr) {
			err = fmt.Errorf("%w after %d attempts", docstore.ErrAborted, attempts)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrAllocation, name, err)
	}
	record(name, "ok")
	return Format(next, a.Width), nil
}
