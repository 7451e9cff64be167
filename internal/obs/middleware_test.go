package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("toko", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204", "anonymous"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	samples := testutil.CollectAndCount(metrics.ReqDur)
	if samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if metrics.InFlight != nil {
		if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
			t.Fatalf("expected no in-flight requests, got %v", val)
		}
	}
}

func TestHTTPMetricsRoleAndReplay(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("toko", nil, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/quick", nil)
	ctx := common.WithActor(req.Context(), common.Actor{ID: "u1", Role: common.RoleUser})
	req = req.WithContext(obs.WithRoutePattern(ctx, "/api/v1/sales/quick"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/sales/quick", "201", common.RoleUser)); got != 1 {
		t.Fatalf("expected role-labelled request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Replays.WithLabelValues("/api/v1/sales/quick")); got != 1 {
		t.Fatalf("expected replay to be counted, got %v", got)
	}

	again := obs.NewHTTPMetrics("toko", nil, registry)
	if again.ReqTotal != metrics.ReqTotal {
		t.Fatal("expected registered collector to be reused")
	}
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.RequestLogger{Logger: zerolog.New(&buf)}
	handler := logger.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/presales/p1/settle", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
	ctx := obs.WithRoutePattern(req.Context(), "/api/v1/presales/{id}/settle")
	ctx = common.WithActor(ctx, common.Actor{ID: "u1", Role: common.RoleUser})
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level for conflicts, got %v", entry["level"])
	}
	if entry["route"] != "/api/v1/presales/{id}/settle" || entry["status"] != float64(409) {
		t.Fatalf("unexpected route or status: %v", entry)
	}
	if entry["user_id"] != "u1" || entry["idempotency_key"] != "k-1" || entry["client_ip"] != "10.0.0.7" {
		t.Fatalf("missing request metadata: %v", entry)
	}
}

func TestRequestLoggerScopesHandlerLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.RequestLogger{Logger: zerolog.New(&buf)}
	handler := middleware.RequestID(logger.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("settling")
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/quick", nil)
	req = req.WithContext(common.WithActor(req.Context(), common.Actor{ID: "seller-9", Role: common.RoleUser}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected handler line and access line, got %d", len(lines))
	}
	var inner, access map[string]any
	if err := json.Unmarshal(lines[0], &inner); err != nil {
		t.Fatalf("decode handler line: %v", err)
	}
	if err := json.Unmarshal(lines[1], &access); err != nil {
		t.Fatalf("decode access line: %v", err)
	}
	if inner["message"] != "settling" || inner["user_id"] != "seller-9" {
		t.Fatalf("handler line lacks request scope: %v", inner)
	}
	if inner["request_id"] == "" || inner["request_id"] != access["request_id"] {
		t.Fatalf("request ids differ: %v vs %v", inner["request_id"], access["request_id"])
	}
	if access["message"] != "http_request" || access["level"] != "info" {
		t.Fatalf("unexpected access line: %v", access)
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV("50, 5,bad,-1,,250")
	if len(got) != 3 || got[0] != 50 || got[1] != 5 || got[2] != 250 {
		t.Fatalf("unexpected buckets %v", got)
	}
	if obs.ParseBucketsCSV("  ") != nil {
		t.Fatal("expected nil for empty csv")
	}
}

func TestStatusRecorderFlushes(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := obs.NewStatusRecorder(rr)
	var w http.ResponseWriter = rec
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("recorder must implement http.Flusher")
	}
	_, _ = w.Write([]byte("data: {}\n\n"))
	flusher.Flush()
	if !rr.Flushed {
		t.Fatal("expected flush to reach the underlying writer")
	}
	if rec.Unwrap() != rr {
		t.Fatal("unwrap must return the wrapped writer")
	}
}
