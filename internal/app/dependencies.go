// Package app assembles the services shared by the API, the worker and the
// maintenance tools.
package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/toko-pos/internal/analytics"
	"github.com/noah-isme/toko-pos/internal/audit"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/docstore/memstore"
	"github.com/noah-isme/toko-pos/internal/docstore/pgstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/presale"
	"github.com/noah-isme/toko-pos/internal/queue"
	"github.com/noah-isme/toko-pos/internal/ratelimit"
	"github.com/noah-isme/toko-pos/internal/resilience"
	"github.com/noah-isme/toko-pos/internal/sale"
	"github.com/noah-isme/toko-pos/internal/sequence"
	"github.com/noah-isme/toko-pos/internal/settlement"
)

// Dependencies enumerates the services shared across commands.
type Dependencies struct {
	Config    *config.Config
	Logger    *zerolog.Logger
	Pool      *pgxpool.Pool
	Store     docstore.Store
	Redis     *redis.Client
	Validator *validator.Validate

	Sequence  sequence.Source
	Catalog   *catalog.Service
	Quoter    *cart.Quoter
	Presales  *presale.Repository
	Sales     *sale.Service
	Engine    *settlement.Engine
	Bus       *events.Bus
	Analytics *analytics.Service
	Audit     audit.Service

	Tasks        *asynq.Client
	Inspector    *asynq.Inspector
	RateLimiter  ratelimit.Limiter
	WriteLimiter ratelimit.Limiter

	closers []func() error
}

// Options tweak what Build wires.
type Options struct {
	// Migrate applies pending schema migrations before opening the pool.
	Migrate bool
	// RedisMetrics enables redisotel metric instrumentation.
	RedisMetrics bool
	// ApplicationName is reported to PostgreSQL.
	ApplicationName string
}

// Build connects to the configured backends and wires the domain services.
// Close must be called to release connections.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &Dependencies{Config: cfg, Logger: logger, Validator: common.NewValidator()}

	if err := d.openStore(ctx, opts); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := d.openRedis(ctx, opts); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := d.wire(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) openStore(ctx context.Context, opts Options) error {
	cfg := d.Config
	switch cfg.Datastore {
	case config.DatastoreMemory:
		store := memstore.New()
		store.MaxAttempts = cfg.DocstoreTxMaxAttempts
		d.Store = store
		d.Logger.Warn().Msg("using in-memory datastore; data is lost on restart")
		return nil
	case config.DatastorePostgres:
	default:
		return fmt.Errorf("app: unknown datastore %q", cfg.Datastore)
	}

	if opts.Migrate {
		version, err := pgstore.Migrate(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		d.Logger.Info().Uint("version", version).Msg("schema migrated")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	name := opts.ApplicationName
	if name == "" {
		name = "toko-pos"
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	store := pgstore.New(pool)
	store.MaxAttempts = cfg.DocstoreTxMaxAttempts
	store.Logger = d.Logger
	d.Pool = pool
	d.Store = store
	return nil
}

func (d *Dependencies) openRedis(ctx context.Context, opts Options) error {
	cfg := d.Config
	if cfg.RedisURL == "" {
		d.Logger.Warn().Msg("REDIS_URL not set; idempotency, reports and queue disabled")
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	d.closers = append(d.closers, client.Close)
	if err := redisotel.InstrumentTracing(client); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			d.Logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	d.Redis = client

	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return err
	}
	d.Tasks = asynq.NewClient(connOpt)
	d.closers = append(d.closers, d.Tasks.Close)
	d.Inspector = asynq.NewInspector(connOpt)
	d.closers = append(d.closers, d.Inspector.Close)
	return nil
}

func (d *Dependencies) wire() error {
	cfg := d.Config
	seq, err := NewSequence(cfg, d.Store, d.Redis, d.Logger)
	if err != nil {
		return err
	}
	d.Sequence = seq

	d.Catalog = &catalog.Service{
		Store:    d.Store,
		Cache:    catalog.NewCache(d.Redis, cfg.ProductCacheTTL),
		Validate: d.Validator,
		Logger:   d.Logger,
	}
	d.Quoter = &cart.Quoter{Catalog: d.Catalog, Validate: d.Validator}

	d.Bus = &events.Bus{Store: d.Store, Logger: d.Logger}
	if d.Tasks != nil {
		breaker := resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "report-queue",
			MinRequests:  cfg.QueueBreakerMinReq,
			FailureRatio: cfg.QueueBreakerRatio,
			OpenFor:      cfg.QueueBreakerOpen,
			Logger:       d.Logger,
		})
		d.Bus.Notifiers = append(d.Bus.Notifiers, queue.EventNotifier{
			Queue:   queue.Enqueuer{Client: d.Tasks, DedupTTL: cfg.IdempotencyTTL},
			Routes:  queue.ReportRoutes(),
			Breaker: breaker,
		})
	}

	d.Presales = &presale.Repository{Store: d.Store, Sequence: seq, Logger: d.Logger}
	d.Sales = &sale.Service{Store: d.Store, Sequence: seq, Events: d.Bus, Logger: d.Logger}
	d.Engine = &settlement.Engine{Store: d.Store, Sequence: seq, Bus: d.Bus, Logger: d.Logger}
	d.Audit = audit.Service{Store: d.Store, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate}
	if d.Redis != nil {
		d.Analytics = &analytics.Service{R: d.Redis, TTL: cfg.ReportRetention, Location: cfg.ReportTimezone}
	}

	limStore, err := NewLimiterStore(d.Redis)
	if err != nil {
		return err
	}
	d.RateLimiter = ratelimit.Fixed{Store: limStore}
	if d.Redis != nil {
		d.WriteLimiter = ratelimit.Sliding{Client: d.Redis, Prefix: "ratelimit:write:"}
	} else {
		d.WriteLimiter = ratelimit.Fixed{Store: memory.NewStore()}
	}
	return nil
}

// NewSequence picks the receipt counter backend.
func NewSequence(cfg *config.Config, store docstore.Store, rdb *redis.Client, logger *zerolog.Logger) (sequence.Source, error) {
	switch cfg.SequenceBackend {
	case config.SequenceRedis:
		if rdb == nil {
			return nil, errors.New("app: redis sequence backend requires REDIS_URL")
		}
		return &sequence.RedisAllocator{Client: rdb, Width: cfg.SequenceWidth, MaxAttempts: cfg.DocstoreTxMaxAttempts, Logger: logger}, nil
	case config.SequenceStore, "":
		return &sequence.Allocator{Store: store, Width: cfg.SequenceWidth, Logger: logger}, nil
	}
	return nil, fmt.Errorf("app: unknown sequence backend %q", cfg.SequenceBackend)
}

// NewLimiterStore wires a rate limiter store backed by Redis, or process
// memory when Redis is not configured.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	if rdb == nil {
		return memory.NewStore(), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit:api"})
}

// RedisConnOpt converts REDIS_URL for asynq.
func RedisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for queue: %w", err)
	}
	return opt, nil
}

// Close releases every connection opened by Build, newest first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
