// Package pgstore implements docstore.Store on a PostgreSQL JSONB table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

const notifyChannel = "docstore_changes"

// Store persists documents in the documents table.
type Store struct {
	Pool        *pgxpool.Pool
	MaxAttempts int
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// New constructs a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool, MaxAttempts: docstore.DefaultMaxAttempts}
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return docstore.DefaultMaxAttempts
}

func (s *Store) ready() error {
	if s == nil || s.Pool == nil {
		return errors.New("pgstore not configured")
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectDocument = `SELECT data, version, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`

func getDocument(ctx context.Context, q querier, ref docstore.Ref, lock string) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{Ref: ref}
	sql := selectDocument
	if lock != "" {
		sql += " " + lock
	}
	var data []byte
	err := q.QueryRow(ctx, sql, ref.Collection, ref.ID).Scan(&data, &snap.Version, &snap.CreateTime, &snap.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{Ref: ref}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Snapshot{Ref: ref}, fmt.Errorf("get %s: %w", ref, err)
	}
	snap.Data = data
	return snap, nil
}

// Get fetches a document.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := s.ready(); err != nil {
		return docstore.Snapshot{}, err
	}
	if err := ref.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	return getDocument(ctx, s.Pool, ref, "")
}

// Query runs an equality-filtered, ordered query over one collection.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	out := make([]docstore.Snapshot, 0)
	for rows.Next() {
		snap := docstore.Snapshot{Ref: docstore.Ref{Collection: q.Collection}}
		var data []byte
		if err := rows.Scan(&snap.ID, &data, &snap.Version, &snap.CreateTime, &snap.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		snap.Data = data
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return out, nil
}

func buildQuery(q docstore.Query) (string, []any, error) {
	if strings.TrimSpace(q.Collection) == "" {
		return "", nil, errors.New("pgstore: query without collection")
	}
	var b strings.Builder
	b.WriteString("SELECT id, data, version, created_at, updated_at FROM documents WHERE collection = $1")
	args := []any{q.Collection}
	for _, f := range q.Where {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("pgstore: filter %s: %w", f.Field, err)
		}
		args = append(args, f.Field, string(value))
		fmt.Fprintf(&b, " AND COALESCE(data -> $%d::text, 'null'::jsonb) = $%d::jsonb", len(args)-1, len(args))
	}
	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}
	switch q.OrderBy {
	case "":
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	case docstore.CreateTimeField:
		fmt.Fprintf(&b, " ORDER BY created_at %s, id %s", direction, direction)
	default:
		args = append(args, q.OrderBy)
		fmt.Fprintf(&b, " ORDER BY data -> $%d::text %s, id %s", len(args), direction, direction)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args, nil
}

// Create inserts a new document.
func (s *Store) Create(ctx context.Context, ref docstore.Ref, v any) error {
	return s.Batch().Create(ref, v).Commit(ctx)
}

// Set upserts a document body.
func (s *Store) Set(ctx context.Context, ref docstore.Ref, v any) error {
	return s.Batch().Set(ref, v).Commit(ctx)
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, ref docstore.Ref, fields docstore.Fields, preconditions ...docstore.Precondition) error {
	return s.Batch().Update(ref, fields, preconditions...).Commit(ctx)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.Pool.Ping(ctx)
}

func insertDocument(ctx context.Context, tx pgx.Tx, ref docstore.Ref, data []byte, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, $4, $4) ON CONFLICT (collection, id) DO NOTHING`,
		ref.Collection, ref.ID, string(data), now)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}

func upsertDocument(ctx context.Context, tx pgx.Tx, ref docstore.Ref, data []byte, now time.Time) error {
	_, err := tx.Exec(ctx, `INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, $4, $4)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = EXCLUDED.updated_at`,
		ref.Collection, ref.ID, string(data), now)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", ref, err)
	}
	return nil
}

func replaceDocument(ctx context.Context, tx pgx.Tx, ref docstore.Ref, data []byte, version int64, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE documents SET data = $3::jsonb, version = version + 1, updated_at = $5
		WHERE collection = $1 AND id = $2 AND version = $4`,
		ref.Collection, ref.ID, string(data), version, now)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}
