package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// Collection is the outbox of domain events.
const Collection = "events"

// Event is a persisted domain event.
type Event struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	AggregateID  string          `json:"aggregateId"`
	Payload      json.RawMessage `json:"payload"`
	OccurredAt   time.Time       `json:"occurredAt"`
	Dispatched   bool            `json:"dispatched"`
	DispatchedAt *time.Time      `json:"dispatchedAt,omitempty"`
}

// Ref addresses the outbox document.
func (e Event) Ref() docstore.Ref {
	return docstore.Doc(Collection, e.ID)
}

// New builds an event ready to be written to the outbox.
func New(topic, aggregateID string, payload any, at time.Time) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	return Event{
		ID:          docstore.NewID(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  at.UTC(),
	}, nil
}

// Notifier reacts to dispatched events (report queue, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus writes events to the outbox and fans them out to notifiers once the
// surrounding write has committed.
type Bus struct {
	Store     docstore.Store
	Notifiers []Notifier
	Now       func() time.Time
	Logger    *zerolog.Logger
}

func (b *Bus) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Stage adds ev to a batch so it commits together with the state change it
// describes.
func Stage(batch docstore.Batch, ev Event) docstore.Batch {
	return batch.Create(ev.Ref(), ev)
}

// Emit records the event on its own and dispatches it.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	ev, err := New(topic, aggregateID, payload, b.now())
	if err != nil {
		return Event{}, err
	}
	if err := b.Store.Create(ctx, ev.Ref(), ev); err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	return ev, b.Dispatch(ctx, ev)
}

// Dispatch delivers a committed event to every notifier and marks it
// dispatched when all of them succeed. Failed events stay in the outbox for
// Redeliver.
func (b *Bus) Dispatch(ctx context.Context, ev Event) error {
	if b == nil {
		return nil
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	result := "delivered"
	if joined != nil {
		result = "failed"
	}
	if obs.EventDispatchTotal != nil {
		obs.EventDispatchTotal.WithLabelValues(ev.Topic, result).Inc()
	}
	if joined != nil {
		if b.Logger != nil {
			b.Logger.Warn().Err(joined).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("event dispatch failed")
		}
		return joined
	}
	if b.Store == nil {
		return nil
	}
	err := b.Store.Update(ctx, ev.Ref(), docstore.Fields{
		"dispatched":   true,
		"dispatchedAt": docstore.ServerTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("events: mark dispatched: %w", err)
	}
	return nil
}

// Redeliver dispatches up to limit outbox events that were never delivered,
// oldest first. It returns how many were delivered.
func (b *Bus) Redeliver(ctx context.Context, limit int) (int, error) {
	if b == nil || b.Store == nil {
		return 0, errors.New("events: store not configured")
	}
	snaps, err := b.Store.Query(ctx, docstore.Query{
		Collection: Collection,
		Where:      []docstore.Filter{{Field: "dispatched", Value: false}},
		OrderBy:    docstore.CreateTimeField,
		Limit:      limit,
	})
	if err != nil {
		return 0, fmt.Errorf("events: pending events: %w", err)
	}
	delivered := 0
	var joined error
	for _, snap := range snaps {
		var ev Event
		if err := snap.DataTo(&ev); err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		if err := b.Dispatch(ctx, ev); err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		delivered++
	}
	return delivered, joined
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return rawJSON(v)
	case json.RawMessage:
		return rawJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return json.RawMessage("{}"), nil
		}
		return rawJSON([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}

func rawJSON(v []byte) (json.RawMessage, error) {
	if len(v) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), v...), nil
}
