package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/queue"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

type enqueued struct {
	task *asynq.Task
	opts map[asynq.OptionType]any
}

type fakeClient struct {
	mu    sync.Mutex
	calls []enqueued
	ids   map[string]bool
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	values := map[asynq.OptionType]any{}
	for _, o := range opts {
		values[o.Type()] = o.Value()
	}
	if id, ok := values[asynq.TaskIDOpt].(string); ok {
		if f.ids == nil {
			f.ids = map[string]bool{}
		}
		if f.ids[id] {
			return nil, asynq.ErrTaskIDConflict
		}
		f.ids[id] = true
	}
	f.calls = append(f.calls, enqueued{task: task, opts: values})
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestEnqueueOptions(t *testing.T) {
	client := &fakeClient{}
	enq := queue.Enqueuer{Client: client, Queue: "reports", DedupTTL: time.Hour}

	err := enq.Enqueue(context.Background(), queue.Task{Kind: "report:sale", Payload: []byte(`{"a":1}`), IdempotencyKey: "ev1", MaxAttempts: 3, Delay: time.Minute})
	require.NoError(t, err)
	require.Len(t, client.calls, 1)

	call := client.calls[0]
	require.Equal(t, "report:sale", call.task.Type())
	require.JSONEq(t, `{"a":1}`, string(call.task.Payload()))
	require.Equal(t, "reports", call.opts[asynq.QueueOpt])
	require.Equal(t, 2, call.opts[asynq.MaxRetryOpt])
	require.Equal(t, "report:sale:ev1", call.opts[asynq.TaskIDOpt])
	require.Equal(t, time.Minute, call.opts[asynq.ProcessInOpt])
	require.Equal(t, time.Hour, call.opts[asynq.RetentionOpt])
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	client := &fakeClient{}
	enq := queue.Enqueuer{Client: client}
	task := queue.Task{Kind: "report:dedup", Payload: []byte("{}"), IdempotencyKey: "same"}

	require.NoError(t, enq.Enqueue(context.Background(), task))
	require.NoError(t, enq.Enqueue(context.Background(), task))
	require.Len(t, client.calls, 1)
	require.Equal(t, 1.0, testutil.ToFloat64(queue.EnqueuedTotal.WithLabelValues("report:dedup", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(queue.EnqueuedTotal.WithLabelValues("report:dedup", "duplicate")))
	require.Equal(t, queue.DefaultQueue, client.calls[0].opts[asynq.QueueOpt])
	require.Equal(t, 9, client.calls[0].opts[asynq.MaxRetryOpt])
}

func TestEnqueueValidation(t *testing.T) {
	require.Error(t, queue.Enqueuer{}.Enqueue(context.Background(), queue.Task{Kind: "x"}))
	enq := queue.Enqueuer{Client: &fakeClient{}}
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{}))
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind"}))

	failing := queue.Enqueuer{Client: &fakeClient{err: errors.New("redis down")}}
	require.ErrorContains(t, failing.Enqueue(context.Background(), queue.Task{Kind: "demo"}), "redis down")
}

func TestHandleAdaptsTask(t *testing.T) {
	var got queue.Task
	h := queue.Handle("demo", func(_ context.Context, task queue.Task) error {
		got = task
		return nil
	})
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask("demo", []byte("payload"))))
	require.Equal(t, "demo", got.Kind)
	require.Equal(t, []byte("payload"), got.Payload)

	failing := queue.Handle("demo", func(context.Context, queue.Task) error { return errors.New("boom") })
	require.Error(t, failing.ProcessTask(context.Background(), asynq.NewTask("demo", nil)))
}

func TestNewMuxRejectsBadKinds(t *testing.T) {
	_, err := queue.NewMux(map[string]queue.HandlerFunc{"Nope!": func(context.Context, queue.Task) error { return nil }})
	require.Error(t, err)
	_, err = queue.NewMux(map[string]queue.HandlerFunc{"demo": nil})
	require.Error(t, err)
	mux, err := queue.NewMux(map[string]queue.HandlerFunc{queue.KindSaleReport: func(context.Context, queue.Task) error { return nil }})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(queue.KindSaleReport, nil)))
}

func TestRetryDelayGrows(t *testing.T) {
	delay := queue.RetryDelay(10*time.Millisecond, 0)
	require.Equal(t, 10*time.Millisecond, delay(0, errors.New("x"), nil))
	require.Equal(t, 40*time.Millisecond, delay(2, errors.New("x"), nil))
}

func TestEventNotifierRoutesByTopic(t *testing.T) {
	client := &fakeClient{}
	n := queue.EventNotifier{Queue: queue.Enqueuer{Client: client}, Routes: queue.ReportRoutes()}

	ev, err := events.New(events.TopicPresaleSettled, "o1", map[string]string{"saleId": "s1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), ev))
	require.NoError(t, n.Notify(context.Background(), ev))

	other, err := events.New(events.TopicPresaleCreated, "o1", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), other))

	require.Len(t, client.calls, 1)
	require.Equal(t, queue.KindSaleReport, client.calls[0].task.Type())
	require.Equal(t, queue.KindSaleReport+":"+ev.ID, client.calls[0].opts[asynq.TaskIDOpt])
}

func TestEventNotifierBreakerOpens(t *testing.T) {
	client := &fakeClient{err: errors.New("redis down")}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "report-queue", MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Hour})
	n := queue.EventNotifier{Queue: queue.Enqueuer{Client: client}, Routes: queue.ReportRoutes(), Breaker: breaker}

	ev, err := events.New(events.TopicSaleRegistered, "s1", nil, time.Now())
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), ev))
	require.Error(t, n.Notify(context.Background(), ev))
	require.ErrorIs(t, n.Notify(context.Background(), ev), resilience.ErrOpenCircuit)
}
