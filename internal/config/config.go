package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	limiter "github.com/ulule/limiter/v3"
)

// Datastore backends.
const (
	DatastorePostgres = "postgres"
	DatastoreMemory   = "memory"
)

// Sequence backends.
const (
	SequenceStore = "store"
	SequenceRedis = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	Datastore          string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string

	SequenceBackend       string
	SequenceWidth         int
	DocstoreTxMaxAttempts int
	ProductCacheTTL       time.Duration
	IdempotencyTTL        time.Duration
	RateLimit             limiter.Rate
	WriteRateLimit        limiter.Rate
	BodyLimitBytes        int64
	StreamHeartbeat       time.Duration

	QueueConcurrency   int
	QueueRetryBase     time.Duration
	QueueRetryJitter   float64
	QueueBreakerMinReq int
	QueueBreakerRatio  float64
	QueueBreakerOpen   time.Duration
	RedeliverInterval  time.Duration
	ReportTimezone     *time.Location
	ReportRetention    time.Duration
	AuditEnabled       bool
	AuditSamplingRate  float64

	Obs Obs
}

// Obs toggles observability features.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	EnablePprof      bool
	PprofUser        string
	PprofPass        string
	SecurityHeaders  bool
	HSTS             bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	rate, err := limiter.NewRateFromFormatted(valueOrDefault(k.String("RATE_LIMIT"), "300-M"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT: %w", err)
	}
	writeRate, err := limiter.NewRateFromFormatted(valueOrDefault(k.String("WRITE_RATE_LIMIT"), "60-M"))
	if err != nil {
		return nil, fmt.Errorf("WRITE_RATE_LIMIT: %w", err)
	}
	tzName := valueOrDefault(k.String("REPORT_TIMEZONE"), "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		Datastore:          strings.ToLower(valueOrDefault(k.String("DATASTORE"), DatastorePostgres)),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "toko-pos"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "toko-pos-app"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "12h"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		SequenceBackend:       strings.ToLower(valueOrDefault(k.String("SEQUENCE_BACKEND"), SequenceStore)),
		SequenceWidth:         parseInt(k.String("SEQUENCE_WIDTH"), 6),
		DocstoreTxMaxAttempts: parseInt(k.String("DOCSTORE_TX_MAX_ATTEMPTS"), 5),
		ProductCacheTTL:       parseDuration(k.String("PRODUCT_CACHE_TTL"), "5m"),
		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimit:             rate,
		WriteRateLimit:        writeRate,
		BodyLimitBytes:        int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		StreamHeartbeat:       parseDuration(k.String("STREAM_HEARTBEAT"), "25s"),

		QueueConcurrency:   parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueRetryBase:     parseDuration(k.String("QUEUE_RETRY_BASE"), "2s"),
		QueueRetryJitter:   parseFloat(k.String("QUEUE_RETRY_JITTER"), 0.2),
		QueueBreakerMinReq: parseInt(k.String("QUEUE_BREAKER_MIN_REQUESTS"), 5),
		QueueBreakerRatio:  parseFloat(k.String("QUEUE_BREAKER_FAILURE_RATIO"), 0.5),
		QueueBreakerOpen:   parseDuration(k.String("QUEUE_BREAKER_OPEN_FOR"), "30s"),
		RedeliverInterval:  parseDuration(k.String("EVENT_REDELIVER_INTERVAL"), "30s"),
		ReportTimezone:     loc,
		ReportRetention:    parseDuration(k.String("REPORT_RETENTION"), "2160h"),
		AuditEnabled:       parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate:  parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko_pos"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			EnablePprof:      parseBoolDefault(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
			SecurityHeaders:  parseBoolDefault(k.String("OBS_SECURITY_HEADERS"), true),
			HSTS:             parseBoolDefault(k.String("OBS_HSTS"), false),
		},
	}

	switch cfg.Datastore {
	case DatastorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case DatastoreMemory:
	default:
		return nil, fmt.Errorf("DATASTORE must be %q or %q", DatastorePostgres, DatastoreMemory)
	}
	switch cfg.SequenceBackend {
	case SequenceStore:
	case SequenceRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis sequence backend")
		}
	default:
		return nil, fmt.Errorf("SEQUENCE_BACKEND must be %q or %q", SequenceStore, SequenceRedis)
	}
	if cfg.SequenceWidth < 1 {
		return nil, errors.New("SEQUENCE_WIDTH must be positive")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Production reports whether the service runs in production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
