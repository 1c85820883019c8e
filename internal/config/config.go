// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, persistence, the push gateway, fan-out tuning, rate
// limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CharlesTogle/umak-link-sub000/internal/sysutil"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "umak-link-announcer")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the GORM dialector and its connection settings.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// PushConfig holds the push gateway endpoints, the service-account
// credential sources and the per-recipient retry policy.
//
// Credential fields are resolved lazily by the push package: an inline JSON
// bundle wins over a file, which wins over the discrete fields.
type PushConfig struct {
	ServiceAccountFile string // FCM_SERVICE_ACCOUNT_FILE
	ServiceAccountJSON string // FCM_SERVICE_ACCOUNT_JSON
	ClientEmail        string // FCM_CLIENT_EMAIL
	PrivateKey         string // FCM_PRIVATE_KEY (PEM, literal "\n" allowed)
	ProjectID          string // FCM_PROJECT_ID
	TokenURI           string // FCM_TOKEN_URI
	BaseURL            string // FCM_BASE_URL

	HTTPTimeout time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// WorstCaseSend is the longest a single recipient's delivery can take:
// every attempt running into HTTPTimeout plus every backoff delay between
// them.
func (p PushConfig) WorstCaseSend() time.Duration {
	total := time.Duration(p.MaxRetries+1) * p.HTTPTimeout
	d := p.BaseDelay
	for i := 0; i < p.MaxRetries; i++ {
		total += min(d, p.MaxDelay)
		if d < p.MaxDelay {
			d *= 2
		}
	}
	return total
}

// writeTimeoutMargin covers the work around the delivery phase: credential
// exchange, notification inserts and the response itself.
const writeTimeoutMargin = 10 * time.Second

// MinWriteTimeout is the shortest server write timeout that still lets a
// fan-out answer: the delivery budget, one window that started just before
// the budget ran out, and writeTimeoutMargin.
func (c Config) MinWriteTimeout() time.Duration {
	return c.Fanout.Budget + c.Push.WorstCaseSend() + writeTimeoutMargin
}

// FanoutConfig tunes the announcement fan-out.
type FanoutConfig struct {
	WindowSize  int           // concurrent deliveries per window
	Budget      time.Duration // wall-clock budget for the delivery phase
	InsertBatch int           // notification rows per insert
	Title       string        // push/notification title
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // defaults to MinWriteTimeout
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int    // bytes
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB     DBConfig
	Push   PushConfig
	Fanout FanoutConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0), // derived below when unset
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 20*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/functions/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Push: PushConfig{
			ServiceAccountFile: getenv("FCM_SERVICE_ACCOUNT_FILE", ""),
			ServiceAccountJSON: getenv("FCM_SERVICE_ACCOUNT_JSON", ""),
			ClientEmail:        getenv("FCM_CLIENT_EMAIL", ""),
			PrivateKey:         getenv("FCM_PRIVATE_KEY", ""),
			ProjectID:          getenv("FCM_PROJECT_ID", ""),
			TokenURI:           getenv("FCM_TOKEN_URI", "https://oauth2.googleapis.com/token"),
			BaseURL:            strings.TrimRight(getenv("FCM_BASE_URL", "https://fcm.googleapis.com"), "/"),
			HTTPTimeout:        getdur("PUSH_HTTP_TIMEOUT", 10*time.Second),
			MaxRetries:         getint("PUSH_MAX_RETRIES", 3),
			BaseDelay:          getdur("PUSH_BASE_DELAY", time.Second),
			MaxDelay:           getdur("PUSH_MAX_DELAY", 10*time.Second),
		},

		Fanout: FanoutConfig{
			WindowSize:  getint("FANOUT_WINDOW_SIZE", 50),
			Budget:      getdur("FANOUT_BUDGET", 110*time.Second),
			InsertBatch: getint("FANOUT_INSERT_BATCH", 500),
			Title:       getenv("ANNOUNCEMENT_TITLE", "UMak LINK Announcement"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 1.0),
		RateBurst: getint("RATE_BURST", 5),

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

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    otelEndpoint(),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "umak-link-announcer"),
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
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.MinWriteTimeout()
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
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Push.HTTPTimeout <= 0 {
		return cfg, errors.New("PUSH_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Push.MaxRetries < 0 {
		return cfg, errors.New("PUSH_MAX_RETRIES must be >= 0")
	}
	if cfg.Push.BaseDelay <= 0 || cfg.Push.MaxDelay < cfg.Push.BaseDelay {
		return cfg, errors.New("PUSH_BASE_DELAY must be > 0 and <= PUSH_MAX_DELAY")
	}
	if cfg.Fanout.WindowSize < 1 {
		return cfg, errors.New("FANOUT_WINDOW_SIZE must be >= 1")
	}
	if cfg.Fanout.InsertBatch < 1 {
		return cfg, errors.New("FANOUT_INSERT_BATCH must be >= 1")
	}
	if cfg.Fanout.Budget <= 0 {
		return cfg, errors.New("FANOUT_BUDGET must be > 0")
	}
	if cfg.WriteTimeout < cfg.MinWriteTimeout() {
		return cfg, fmt.Errorf("WRITE_TIMEOUT must be >= %s (FANOUT_BUDGET plus the worst-case push send plus %s)",
			cfg.MinWriteTimeout(), writeTimeoutMargin)
	}
	if strings.TrimSpace(cfg.Fanout.Title) == "" {
		return cfg, errors.New("ANNOUNCEMENT_TITLE must not be empty")
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
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

func getbool(k string, def bool) bool {
	v := os.Getenv(k)
	switch {
	case sysutil.IsTruthy(v):
		return true
	case sysutil.IsFalsy(v):
		return false
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

// otelEndpoint prefers the traces-specific OTLP variable, as the OTel SDKs do.
func otelEndpoint() string {
	return sysutil.FirstNonEmpty(
		os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"),
		os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		"localhost:4317",
	)
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
