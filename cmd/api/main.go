package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-pos/internal/analytics"
	"github.com/noah-isme/toko-pos/internal/app"
	"github.com/noah-isme/toko-pos/internal/audit"
	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/health"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/presale"
	"github.com/noah-isme/toko-pos/internal/queue"
	"github.com/noah-isme/toko-pos/internal/ratelimit"
	"github.com/noah-isme/toko-pos/internal/resilience"
	"github.com/noah-isme/toko-pos/internal/sale"
	"github.com/noah-isme/toko-pos/internal/security"
	"github.com/noah-isme/toko-pos/internal/settlement"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()
	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
		if err := resilience.RegisterMetrics(nil); err != nil {
			logger.Error().Err(err).Msg("register breaker metrics")
		}
		if err := queue.RegisterMetrics(nil); err != nil {
			logger.Error().Err(err).Msg("register queue metrics")
		}
	}

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-pos-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Build(startCtx, cfg, &logger, app.Options{
		Migrate:         true,
		RedisMetrics:    cfg.Obs.EnablePrometheus,
		ApplicationName: "toko-pos-api",
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	authService, err := auth.NewService(auth.Config{
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(cfg, deps, authService, logger, tracingEnabled),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if tracingEnabled {
		srv.Handler = otelhttp.NewHandler(srv.Handler, "toko-pos-api")
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("datastore", cfg.Datastore).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func newRouter(cfg *config.Config, deps *app.Dependencies, authService *auth.Service, logger zerolog.Logger, tracing bool) http.Handler {
	authMiddleware := auth.Middleware{Service: authService}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	apiLimit := ratelimit.Handler{
		Limiter: deps.RateLimiter,
		Config:  ratelimit.Config{Key: ratelimit.ByActorOrIP("api"), Window: cfg.RateLimit.Period, Max: int(cfg.RateLimit.Limit)},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	writeLimit := ratelimit.Handler{
		Limiter: deps.WriteLimiter,
		Config:  ratelimit.Config{Key: ratelimit.ByActorOrIP("write"), Window: cfg.WriteRateLimit.Period, Max: int(cfg.WriteRateLimit.Limit)},
		OnError: func(err error) { logger.Warn().Err(err).Msg("write rate limiter unavailable") },
	}

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: deps.Catalog})
	cartHandler := &cart.Handler{Quoter: deps.Quoter}
	presaleHandler := &presale.Handler{Repo: deps.Presales, Quoter: deps.Quoter, Heartbeat: cfg.StreamHeartbeat, Logger: &logger}
	settleHandler := &settlement.Handler{Orders: deps.Presales, Engine: deps.Engine}
	saleHandler := &sale.Handler{Service: deps.Sales, Quoter: deps.Quoter}
	auditRecorder := audit.HTTPRecorder{
		Service: deps.Audit,
		OnError: func(err error) { logger.Error().Err(err).Msg("audit record failed") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.EnablePrometheus {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)}.Middleware)
	}
	r.Use(authMiddleware.Authenticate)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{Enable: cfg.Obs.SecurityHeaders, EnableHSTS: cfg.Obs.HSTS}.Middleware)

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.EnablePprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{Dependencies: []health.Dependency{
		health.StoreDependency(deps.Store),
		health.RedisDependency(deps.Redis),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	sellers := auth.RequireRole(common.RoleAdmin, common.RoleUser)
	fulfillers := auth.RequireRole(common.RoleAdmin, common.RoleDelivery)
	admins := auth.RequireRole(common.RoleAdmin)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		v.Use(apiLimit.Middleware)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{id}", catalogHandler.Product)
		v.Get("/customers", catalogHandler.Customers)
		v.Get("/customers/{id}", catalogHandler.Customer)
		v.Post("/carts/quote", cartHandler.Quote)

		v.Route("/presales", func(p chi.Router) {
			p.Get("/", presaleHandler.List)
			p.Get("/stream", presaleHandler.Stream)
			p.With(fulfillers).Get("/picklist", presaleHandler.PickList)
			p.With(sellers).Post("/", presaleHandler.Create)
			p.Get("/{id}", presaleHandler.Get)
			p.With(sellers).Put("/{id}", presaleHandler.Update)
			p.Get("/{id}/history", presaleHandler.History)
			p.With(fulfillers).Patch("/{id}/fulfillment", presaleHandler.Fulfillment)
			p.With(sellers, writeLimit.Middleware, idem.Middleware).Post("/{id}/settle", settleHandler.Settle)
		})

		v.Route("/sales", func(s chi.Router) {
			s.With(sellers, writeLimit.Middleware, idem.Middleware).Post("/quick", saleHandler.Quick)
			s.Get("/{id}", saleHandler.Get)
		})

		v.Route("/admin", func(a chi.Router) {
			a.Use(admins)
			a.With(auditRecorder.Middleware(audit.HTTPConfig{ResourceType: "product", ResourceIDParam: "id"})).
				Put("/products/{id}", catalogHandler.PutProduct)
			a.With(auditRecorder.Middleware(audit.HTTPConfig{ResourceType: "customer", ResourceIDParam: "id"})).
				Put("/customers/{id}", catalogHandler.PutCustomer)
			a.Get("/audit", audit.Handler{Service: deps.Audit}.List)
			if deps.Inspector != nil {
				queueAdmin := &queue.AdminHandler{Inspector: deps.Inspector, Logger: &logger}
				a.Get("/queues/dlq", queueAdmin.ListDLQ)
				a.With(auditRecorder.Middleware(audit.HTTPConfig{ResourceType: "queue.dlq"})).
					Post("/queues/dlq/replay", queueAdmin.ReplayDLQ)
				a.Get("/queues/stats", queueAdmin.Stats)
			}
		})

		if deps.Analytics != nil {
			reports := &analytics.Handler{Svc: deps.Analytics}
			v.With(admins).Get("/reports/daily", reports.Daily)
		}
	})
	return r
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
