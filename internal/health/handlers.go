// Package health serves liveness and readiness checks.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Pinger is anything that can confirm it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is one checked backend. Name labels it in the readiness report.
type Dependency struct {
	Name    string
	Timeout time.Duration
	// Optional dependencies are reported but never fail readiness.
	Optional bool
	Check    func(ctx context.Context) error
}

// ErrDisabled marks a dependency that is not configured.
var ErrDisabled = errors.New("disabled")

// StoreDependency checks the document store.
func StoreDependency(store Pinger) Dependency {
	return Dependency{Name: "datastore", Timeout: 500 * time.Millisecond, Check: func(ctx context.Context) error {
		if store == nil {
			return errors.New("document store not configured")
		}
		return store.Ping(ctx)
	}}
}

// RedisDependency checks Redis. The API runs without it, so a nil client reports
// disabled rather than failing.
func RedisDependency(client *redis.Client) Dependency {
	return Dependency{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
		if client == nil {
			return ErrDisabled
		}
		return client.Ping(ctx).Err()
	}}
}

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness flag. The API clears it when shutdown starts
// so load balancers drain traffic first.
func SetReady(v bool) { ready.Store(v) }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Dependencies []Dependency
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Report is the readiness body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Ready runs every dependency check and answers 503 when a required one fails or the
// process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "shutting down"})
		return
	}
	report := Report{Status: "ok", Checks: make(map[string]string, len(h.Dependencies))}
	code := http.StatusOK
	for _, p := range h.Dependencies {
		result := check(r.Context(), p)
		report.Checks[p.Name] = result
		if result != "ok" && result != ErrDisabled.Error() && !p.Optional {
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, report)
}

func check(ctx context.Context, p Dependency) string {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Check(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
