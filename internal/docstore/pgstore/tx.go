package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

type transaction struct {
	store  *Store
	reads  map[docstore.Ref]int64
	writes map[docstore.Ref]json.RawMessage
	order  []docstore.Ref
}

func (t *transaction) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	snap, err := getDocument(ctx, t.store.Pool, ref, "")
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return snap, err
	}
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = snap.Version
	}
	return snap, err
}

func (t *transaction) Set(ref docstore.Ref, v any) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	data, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	if _, seen := t.writes[ref]; !seen {
		t.order = append(t.order, ref)
	}
	t.writes[ref] = data
	return nil
}

// RunTransaction executes fn optimistically: reads are versioned, writes are
// applied only if every version still matches, otherwise fn is retried.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	if err := s.ready(); err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		tx := &transaction{store: s, reads: map[docstore.Ref]int64{}, writes: map[docstore.Ref]json.RawMessage{}}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := conflictOf(s.commitTx(ctx, tx))
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return err
		}
		lastErr = err
		if attempt == s.maxAttempts() {
			break
		}
		if s.Logger != nil {
			s.Logger.Debug().Int("attempt", attempt).Msg("docstore transaction conflict, retrying")
		}
		if err := docstore.WaitRetry(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", docstore.ErrAborted, s.maxAttempts(), lastErr)
}

// conflictOf maps serialization failures and deadlocks to ErrConflict so the
// transaction is retried.
func conflictOf(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", docstore.ErrConflict, pgErr.Message)
	}
	return err
}

func (s *Store) commitTx(ctx context.Context, t *transaction) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	for ref, version := range t.reads {
		if _, written := t.writes[ref]; written {
			continue
		}
		var current int64
		err := tx.QueryRow(ctx, `SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR SHARE`, ref.Collection, ref.ID).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("verify %s: %w", ref, err)
		}
		if current != version {
			return docstore.ErrConflict
		}
	}
	for _, ref := range t.order {
		data := t.writes[ref]
		version, read := t.reads[ref]
		switch {
		case !read:
			if err := upsertDocument(ctx, tx, ref, data, now); err != nil {
				return err
			}
		case version == 0:
			inserted, err := insertDocument(ctx, tx, ref, data, now)
			if err != nil {
				return err
			}
			if !inserted {
				return docstore.ErrConflict
			}
		default:
			replaced, err := replaceDocument(ctx, tx, ref, data, version, now)
			if err != nil {
				return err
			}
			if !replaced {
				return docstore.ErrConflict
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
