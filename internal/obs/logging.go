package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pos/internal/common"
)

// NewLogger builds the process logger. format is "json" (default) or
// "console"/"text" for humans; an unknown level falls back to info.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// RequestLogger installs a request-scoped logger in the context, reachable
// through zerolog.Ctx, and writes one access line per request.
type RequestLogger struct {
	Logger zerolog.Logger
}

func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scoped := l.scope(r)
		r = r.WithContext(scoped.WithContext(r.Context()))

		recorder := NewStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		status := recorder.Status()
		var evt *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			evt = scoped.Error()
		case status == http.StatusConflict || status == http.StatusTooManyRequests:
			evt = scoped.Warn()
		default:
			evt = scoped.Info()
		}
		route := RouteOf(r)
		if route == "" {
			route = r.URL.Path
		}
		evt.Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int64("bytes", recorder.BytesWritten()).
			Msg("http_request")
	})
}

// scope derives the per-request logger. The actor is attached when the
// authentication middleware already ran.
func (l RequestLogger) scope(r *http.Request) zerolog.Logger {
	c := l.Logger.With().Str("request_id", middleware.GetReqID(r.Context()))
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		c = c.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	if actor, ok := common.ActorFrom(r.Context()); ok {
		c = c.Str("user_id", actor.ID).Str("role", actor.Role)
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		c = c.Str("idempotency_key", key)
	}
	if ip := common.ClientIP(r); ip != "" {
		c = c.Str("client_ip", ip)
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		c = c.Str("user_agent", ua)
	}
	return c.Logger()
}
