// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, rate limiting, observability, and the gifting
// policy knobs (retry schedule, trigger window, capability endpoints).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-autogift-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SelectorConfig points at the external product-selection service.
type SelectorConfig struct {
	BaseURL string        // SELECTOR_BASE_URL
	Timeout time.Duration // SELECTOR_TIMEOUT
}

// FulfillmentConfig points at the external order-placement provider.
type FulfillmentConfig struct {
	BaseURL string        // FULFILLMENT_BASE_URL
	Timeout time.Duration // FULFILLMENT_TIMEOUT; elapsed timeouts are treated
	// as indeterminate, not failed (see the orchestrator).
}

// KafkaConfig configures the fire-and-forget notification emitter. An empty
// broker list disables Kafka and falls back to the log-only emitter.
type KafkaConfig struct {
	Brokers []string // KAFKA_BROKERS (CSV)
	Topic   string   // KAFKA_NOTIFY_TOPIC
}

// GiftingConfig groups the execution-policy knobs.
type GiftingConfig struct {
	// MaxOrderAttempts caps consecutive placement attempts before an
	// execution goes terminal failed.
	MaxOrderAttempts int // MAX_ORDER_ATTEMPTS
	// TriggerWindowDays is how far ahead of the occasion date the trigger
	// evaluator creates executions.
	TriggerWindowDays int // TRIGGER_WINDOW_DAYS
	// ExpiringSoonWindow is the horizon for classifying a payment method as
	// expiring_soon.
	ExpiringSoonWindow time.Duration // EXPIRING_SOON_WINDOW
	// DefaultBudgetCents seeds new rules that omit a budget.
	DefaultBudgetCents int64 // DEFAULT_BUDGET_CENTS
	// DefaultNotifyOffsets seeds notification day offsets for new rules (CSV).
	DefaultNotifyOffsets string // DEFAULT_NOTIFY_OFFSETS
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / API surface
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// External capabilities
	Selector    SelectorConfig
	Fulfillment FulfillmentConfig
	Kafka       KafkaConfig

	// Gifting policy
	Gifting GiftingConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / API surface
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "autogift.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// External capabilities
		Selector: SelectorConfig{
			BaseURL: getenv("SELECTOR_BASE_URL", "http://localhost:9101"),
			Timeout: getdur("SELECTOR_TIMEOUT", 10*time.Second),
		},
		Fulfillment: FulfillmentConfig{
			BaseURL: getenv("FULFILLMENT_BASE_URL", "http://localhost:9102"),
			Timeout: getdur("FULFILLMENT_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_NOTIFY_TOPIC", "autogift.notifications"),
		},

		// Gifting policy
		Gifting: GiftingConfig{
			MaxOrderAttempts:     getint("MAX_ORDER_ATTEMPTS", 4),
			TriggerWindowDays:    getint("TRIGGER_WINDOW_DAYS", 3),
			ExpiringSoonWindow:   getdur("EXPIRING_SOON_WINDOW", 30*24*time.Hour),
			DefaultBudgetCents:   getint64("DEFAULT_BUDGET_CENTS", 5000),
			DefaultNotifyOffsets: getenv("DEFAULT_NOTIFY_OFFSETS", "7,1"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-autogift-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Gifting.MaxOrderAttempts < 1 {
		return cfg, errors.New("MAX_ORDER_ATTEMPTS must be >= 1")
	}
	if cfg.Gifting.TriggerWindowDays < 0 {
		return cfg, errors.New("TRIGGER_WINDOW_DAYS must be >= 0")
	}
	if cfg.Gifting.ExpiringSoonWindow <= 0 {
		return cfg, errors.New("EXPIRING_SOON_WINDOW must be > 0")
	}
	if cfg.Gifting.DefaultBudgetCents <= 0 {
		return cfg, errors.New("DEFAULT_BUDGET_CENTS must be > 0")
	}
	if cfg.Selector.Timeout <= 0 || cfg.Fulfillment.Timeout <= 0 {
		return cfg, errors.New("capability timeouts must be positive durations")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
