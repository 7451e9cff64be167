package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

// Subscribe listens on the change channel fed by the documents trigger and
// re-runs q whenever its collection changes. The channel closes when ctx ends
// or the listening connection fails.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan []docstore.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	initial, err := s.Query(ctx, q)
	if err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan []docstore.Snapshot, 1)
	out <- initial
	go func() {
		defer close(out)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil && s.Logger != nil {
					s.Logger.Warn().Err(err).Str("collection", q.Collection).Msg("docstore subscription ended")
				}
				return
			}
			if n.Payload != q.Collection {
				continue
			}
			result, err := s.Query(ctx, q)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Warn().Err(err).Str("collection", q.Collection).Msg("docstore subscription query failed")
				}
				continue
			}
			select {
			case <-out:
			default:
			}
			out <- result
		}
	}()
	return out, nil
}
