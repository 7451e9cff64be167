package queue

import (
	"context"

	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

// EventNotifier turns outbox events into tasks. Events whose topic has no
// route are ignored.
type EventNotifier struct {
	Queue   Enqueuer
	Routes  map[string]string
	Breaker *resilience.Breaker
}

// ReportRoutes sends every sale-producing event to the report task.
func ReportRoutes() map[string]string {
	routes := make(map[string]string)
	for _, topic := range events.DefaultTopics() {
		routes[topic] = KindSaleReport
	}
	return routes
}

// Notify enqueues the event keyed by its id, so redelivery never doubles a task.
func (n EventNotifier) Notify(ctx context.Context, ev events.Event) error {
	kind, ok := n.Routes[ev.Topic]
	if !ok {
		return nil
	}
	return n.Breaker.Do(ctx, func(ctx context.Context) error {
		return n.Queue.Enqueue(ctx, Task{Kind: kind, Payload: ev.Payload, IdempotencyKey: ev.ID})
	})
}

var _ events.Notifier = EventNotifier{}
