// Package docstore defines the document datastore primitives the POS engine
// builds on: single-document optimistic transactions, atomic multi-document
// batches with commit-time preconditions, commutative numeric increments and
// live query subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned when creating a document whose id is taken.
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrPreconditionFailed is returned when a commit-time precondition does not hold.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
	// ErrConflict signals that a transaction read went stale before commit.
	ErrConflict = errors.New("docstore: concurrent modification")
	// ErrAborted is returned once a transaction exhausted its retry budget.
	ErrAborted = errors.New("docstore: transaction aborted")
)

// DefaultMaxAttempts bounds optimistic transaction retries.
const DefaultMaxAttempts = 5

// CreateTimeField orders query results by document creation time.
const CreateTimeField = "__createTime"

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a document reference.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// String renders the reference as collection/id.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Validate ensures both path segments are present.
func (r Ref) Validate() error {
	if r.Collection == "" || r.ID == "" {
		return fmt.Errorf("docstore: invalid reference %q", r.String())
	}
	return nil
}

// NewID returns a random document identifier.
func NewID() string {
	return uuid.NewString()
}

// Snapshot is a point-in-time view of a document.
type Snapshot struct {
	Ref
	Data       json.RawMessage
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

// Exists reports whether the snapshot holds a stored document.
func (s Snapshot) Exists() bool {
	return s.Version > 0
}

// DataTo decodes the document body into v.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists() {
		return ErrNotFound
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", s.Ref, err)
	}
	return nil
}

// Filter is an equality condition on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Precondition must hold on the stored document when a batch commits.
type Precondition = Filter

// Query selects documents from one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Tx is the view a transaction function has of the store. Reads are tracked
// and re-validated at commit; writes are buffered until then.
type Tx interface {
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	Set(ref Ref, v any) error
}

// TxFunc is executed, possibly several times, inside RunTransaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Batch stages writes that commit atomically or not at all.
type Batch interface {
	Create(ref Ref, v any) Batch
	Set(ref Ref, v any) Batch
	Update(ref Ref, fields Fields, preconditions ...Precondition) Batch
	Commit(ctx context.Context) error
}

// Store is the document datastore.
type Store interface {
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	Create(ctx context.Context, ref Ref, v any) error
	Set(ctx context.Context, ref Ref, v any) error
	Update(ctx context.Context, ref Ref, fields Fields, preconditions ...Precondition) error
	RunTransaction(ctx context.Context, fn TxFunc) error
	Batch() Batch
	Subscribe(ctx context.Context, q Query) (<-chan []Snapshot, error)
	Ping(ctx context.Context) error
}

// Encode marshals a document body, requiring a JSON object.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	if len(b) == 0 || b[0] != '{' {
		return nil, errors.New("docstore: document body must be an object")
	}
	return b, nil
}

// IsRetryable reports whether err means the caller may retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrConflict)
}
