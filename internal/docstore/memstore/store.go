// Package memstore is an in-process docstore.Store used by tests and local
// development. It keeps the same commit semantics as the PostgreSQL store.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

// CommitKind identifies the operation passed to the BeforeCommit hook.
type CommitKind string

const (
	CommitBatch       CommitKind = "batch"
	CommitTransaction CommitKind = "transaction"
	CommitWrite       CommitKind = "write"
)

type record struct {
	data      json.RawMessage
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

type subscriber struct {
	query docstore.Query
	ch    chan []docstore.Snapshot
}

// Store is a mutex-guarded map of documents.
type Store struct {
	// Now overrides the commit clock.
	Now func() time.Time
	// MaxAttempts bounds transaction retries; zero means docstore.DefaultMaxAttempts.
	MaxAttempts int
	// BeforeCommit runs under the store lock right before a commit applies.
	// A non-nil error aborts the commit with nothing written.
	BeforeCommit func(kind CommitKind) error

	mu   sync.Mutex
	docs map[docstore.Ref]*record
	subs map[*subscriber]struct{}
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		docs: make(map[docstore.Ref]*record),
		subs: make(map[*subscriber]struct{}),
	}
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

func (s *Store) snapshot(ref docstore.Ref, rec *record) docstore.Snapshot {
	if rec == nil {
		return docstore.Snapshot{Ref: ref}
	}
	data := make(json.RawMessage, len(rec.data))
	copy(data, rec.data)
	return docstore.Snapshot{
		Ref:        ref,
		Data:       data,
		Version:    rec.version,
		CreateTime: rec.createdAt,
		UpdateTime: rec.updatedAt,
	}
}

// Get returns a document snapshot or docstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	if err := ref.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[ref]
	if !ok {
		return docstore.Snapshot{Ref: ref}, docstore.ErrNotFound
	}
	return s.snapshot(ref, rec), nil
}

// Query evaluates q against the current state.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(q)
}

func (s *Store) queryLocked(q docstore.Query) ([]docstore.Snapshot, error) {
	snaps := make([]docstore.Snapshot, 0)
	for ref, rec := range s.docs {
		if ref.Collection == q.Collection {
			snaps = append(snaps, s.snapshot(ref, rec))
		}
	}
	// map iteration is random; creation order gives stable unordered results
	sortByCreation(snaps)
	return docstore.ApplyQuery(snaps, q)
}

// Create stores a new document.
func (s *Store) Create(ctx context.Context, ref docstore.Ref, v any) error {
	return s.Batch().Create(ref, v).Commit(ctx)
}

// Set replaces a document, creating it when missing.
func (s *Store) Set(ctx context.Context, ref docstore.Ref, v any) error {
	return s.Batch().Set(ref, v).Commit(ctx)
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, ref docstore.Ref, fields docstore.Fields, preconditions ...docstore.Precondition) error {
	return s.Batch().Update(ref, fields, preconditions...).Commit(ctx)
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ref := range s.docs {
		if ref.Collection == collection {
			n++
		}
	}
	return n
}

// Batch starts a new atomic write set.
func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
}

type opKind int

const (
	opCreate opKind = iota
	opSet
	opUpdate
)

type op struct {
	kind          opKind
	ref           docstore.Ref
	value         any
	fields        docstore.Fields
	preconditions []docstore.Precondition
}

type batch struct {
	store *Store
	ops   []op
}

func (b *batch) Create(ref docstore.Ref, v any) docstore.Batch {
	b.ops = append(b.ops, op{kind: opCreate, ref: ref, value: v})
	return b
}

func (b *batch) Set(ref docstore.Ref, v any) docstore.Batch {
	b.ops = append(b.ops, op{kind: opSet, ref: ref, value: v})
	return b
}

func (b *batch) Update(ref docstore.Ref, fields docstore.Fields, preconditions ...docstore.Precondition) docstore.Batch {
	b.ops = append(b.ops, op{kind: opUpdate, ref: ref, fields: fields, preconditions: preconditions})
	return b
}

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := CommitWrite
	if len(b.ops) > 1 {
		kind = CommitBatch
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(kind); err != nil {
			return err
		}
	}

	now := s.now()
	staged := make(map[docstore.Ref]*record)
	lookup := func(ref docstore.Ref) *record {
		if rec, ok := staged[ref]; ok {
			return rec
		}
		return s.docs[ref]
	}
	for _, o := range b.ops {
		if err := o.ref.Validate(); err != nil {
			return err
		}
		current := lookup(o.ref)
		switch o.kind {
		case opCreate:
			if current != nil {
				return fmt.Errorf("create %s: %w", o.ref, docstore.ErrAlreadyExists)
			}
			data, err := docstore.Encode(o.value)
			if err != nil {
				return err
			}
			staged[o.ref] = &record{data: data, version: 1, createdAt: now, updatedAt: now}
		case opSet:
			data, err := docstore.Encode(o.value)
			if err != nil {
				return err
			}
			next := &record{data: data, version: 1, createdAt: now, updatedAt: now}
			if current != nil {
				next.version = current.version + 1
				next.createdAt = current.createdAt
			}
			staged[o.ref] = next
		case opUpdate:
			if current == nil {
				return fmt.Errorf("update %s: %w", o.ref, docstore.ErrNotFound)
			}
			if err := docstore.CheckPreconditions(current.data, o.preconditions); err != nil {
				return fmt.Errorf("update %s: %w", o.ref, err)
			}
			data, err := docstore.ApplyUpdate(current.data, o.fields, now)
			if err != nil {
				return err
			}
			staged[o.ref] = &record{data: data, version: current.version + 1, createdAt: current.createdAt, updatedAt: now}
		}
	}
	s.applyLocked(staged)
	return nil
}

func (s *Store) applyLocked(staged map[docstore.Ref]*record) {
	touched := make(map[string]struct{})
	for ref, rec := range staged {
		s.docs[ref] = rec
		touched[ref.Collection] = struct{}{}
	}
	s.notifyLocked(touched)
}

// RunTransaction runs fn with optimistic concurrency, retrying on conflict
// after a jittered backoff.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &transaction{store: s, reads: map[docstore.Ref]int64{}, writes: map[docstore.Ref]json.RawMessage{}}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commitTx(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return err
		}
		lastErr = err
		if attempt+1 < s.maxAttempts() {
			if err := docstore.WaitRetry(ctx, attempt+1); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", docstore.ErrAborted, s.maxAttempts(), lastErr)
}

func (s *Store) commitTx(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(CommitTransaction); err != nil {
			return err
		}
	}
	for ref, version := range tx.reads {
		var current int64
		if rec, ok := s.docs[ref]; ok {
			current = rec.version
		}
		if current != version {
			return docstore.ErrConflict
		}
	}
	now := s.now()
	staged := make(map[docstore.Ref]*record, len(tx.writes))
	for ref, data := range tx.writes {
		next := &record{data: data, version: 1, createdAt: now, updatedAt: now}
		if rec, ok := s.docs[ref]; ok {
			next.version = rec.version + 1
			next.createdAt = rec.createdAt
		}
		staged[ref] = next
	}
	s.applyLocked(staged)
	return nil
}

type transaction struct {
	store  *Store
	reads  map[docstore.Ref]int64
	writes map[docstore.Ref]json.RawMessage
}

func (t *transaction) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	t.store.mu.Lock()
	rec := t.store.docs[ref]
	snap := t.store.snapshot(ref, rec)
	t.store.mu.Unlock()
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = snap.Version
	}
	if rec == nil {
		return snap, docstore.ErrNotFound
	}
	return snap, nil
}

func (t *transaction) Set(ref docstore.Ref, v any) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	data, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	t.writes[ref] = data
	return nil
}

// Subscribe emits the query result now and after every commit touching the
// collection. Slow consumers only ever see the latest result.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan []docstore.Snapshot, error) {
	sub := &subscriber{query: q, ch: make(chan []docstore.Snapshot, 1)}
	s.mu.Lock()
	initial, err := s.queryLocked(q)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sub.ch <- initial
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

func (s *Store) notifyLocked(touched map[string]struct{}) {
	for sub := range s.subs {
		if _, ok := touched[sub.query.Collection]; !ok {
			continue
		}
		result, err := s.queryLocked(sub.query)
		if err != nil {
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- result
	}
}

func sortByCreation(snaps []docstore.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreateTime.Equal(snaps[j].CreateTime) {
			return snaps[i].CreateTime.Before(snaps[j].CreateTime)
		}
		return snaps[i].ID < snaps[j].ID
	})
}
