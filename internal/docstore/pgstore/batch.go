package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pos/internal/docstore"
)

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

// Batch starts a write set committed in a single SQL transaction.
func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
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
	if err := b.store.ready(); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	tx, err := b.store.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := b.store.now()
	for _, o := range b.ops {
		if err := o.ref.Validate(); err != nil {
			return err
		}
		switch o.kind {
		case opCreate:
			data, err := docstore.Encode(o.value)
			if err != nil {
				return err
			}
			inserted, err := insertDocument(ctx, tx, o.ref, data, now)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("create %s: %w", o.ref, docstore.ErrAlreadyExists)
			}
		case opSet:
			data, err := docstore.Encode(o.value)
			if err != nil {
				return err
			}
			if err := upsertDocument(ctx, tx, o.ref, data, now); err != nil {
				return err
			}
		case opUpdate:
			if err := applyUpdate(ctx, tx, o, now); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// applyUpdate locks the row so transforms and preconditions see the latest
// committed body; concurrent increments serialize on the row lock.
func applyUpdate(ctx context.Context, tx pgx.Tx, o op, now time.Time) error {
	current, err := getDocument(ctx, tx, o.ref, "FOR UPDATE")
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("update %s: %w", o.ref, docstore.ErrNotFound)
		}
		return err
	}
	if err := docstore.CheckPreconditions(current.Data, o.preconditions); err != nil {
		return fmt.Errorf("update %s: %w", o.ref, err)
	}
	data, err := docstore.ApplyUpdate(current.Data, o.fields, now)
	if err != nil {
		return err
	}
	replaced, err := replaceDocument(ctx, tx, o.ref, data, current.Version, now)
	if err != nil {
		return err
	}
	if !replaced {
		return fmt.Errorf("update %s: %w", o.ref, docstore.ErrConflict)
	}
	return nil
}
