package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestPGXTracerSpans(t *testing.T) {
	rec := withRecorder(t)
	tracer := PGXTracer{}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "  update documents SET data = $3 WHERE collection = $1 AND id = $2",
		Args: []any{"presales", "p-1", "{}"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT data FROM documents"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})

	spans := rec.Ended()
	require.Len(t, spans, 3)

	update := spans[0]
	require.Equal(t, "pg UPDATE", update.Name())
	coll, ok := attrValue(update.Attributes(), "docstore.collection")
	require.True(t, ok)
	require.Equal(t, "presales", coll.AsString())
	rows, ok := attrValue(update.Attributes(), "db.rows_affected")
	require.True(t, ok)
	require.EqualValues(t, 1, rows.AsInt64())

	require.Equal(t, codes.Error, spans[1].Status().Code)
	_, ok = attrValue(spans[1].Attributes(), "docstore.collection")
	require.False(t, ok)

	require.Equal(t, codes.Unset, spans[2].Status().Code)
}

func TestClip(t *testing.T) {
	require.Equal(t, "abc", clip("abc", 5))
	require.Equal(t, "ab...", clip("abcdef", 2))
}
