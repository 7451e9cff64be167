package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/toko-pos/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestHandlerMiddlewareSlidingLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := Handler{
		Limiter: Sliding{Client: client, Prefix: "ratelimit:write:"},
		Config:  Config{Key: func(*http.Request) string { return "static" }, Window: time.Second, Max: 1},
	}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sales/quick", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sales/quick", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.LessOrEqual(t, retry, 1)
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	var reported error
	handler := Handler{
		Limiter: Sliding{Client: client},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Error(t, reported)
}

func TestHandlerMiddlewareFixedWindow(t *testing.T) {
	handler := Handler{
		Limiter: Fixed{Store: memory.NewStore()},
		Config:  Config{Key: ByActorOrIP("settle"), Window: time.Minute, Max: 2},
	}.Middleware(okHandler())

	send := func(ctx context.Context) int {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/presales/p1/settle", nil).WithContext(ctx))
		return rr.Code
	}
	seller := common.WithActor(context.Background(), common.Actor{ID: "u1", Role: common.RoleUser})
	require.Equal(t, http.StatusOK, send(seller))
	require.Equal(t, http.StatusOK, send(seller))
	require.Equal(t, http.StatusTooManyRequests, send(seller))
	// anonymous callers are keyed by address and have their own budget
	require.Equal(t, http.StatusOK, send(context.Background()))
}

func TestMiddlewareWithoutLimiterPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{}.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}
