package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Clear all env that might affect defaults. t.Setenv isolates per test.
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3m")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Database
	t.Setenv("DB_DRIVER", "PostgreSQL") // will normalize to "postgres"
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/app")

	// Push
	t.Setenv("FCM_PROJECT_ID", "umak-link")
	t.Setenv("FCM_BASE_URL", "http://fcm.local/")
	t.Setenv("PUSH_MAX_RETRIES", "5")
	t.Setenv("PUSH_BASE_DELAY", "500ms")
	t.Setenv("PUSH_MAX_DELAY", "4s")

	// Fan-out
	t.Setenv("FANOUT_WINDOW_SIZE", "25")
	t.Setenv("FANOUT_BUDGET", "90s")
	t.Setenv("FANOUT_INSERT_BATCH", "200")
	t.Setenv("ANNOUNCEMENT_TITLE", "Campus notice")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Minute ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// Database
	if cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://u:p@localhost:5432/app" {
		t.Fatalf("db fields unexpected: %+v", cfg.DB)
	}

	// Push
	if cfg.Push.ProjectID != "umak-link" || cfg.Push.BaseURL != "http://fcm.local" ||
		cfg.Push.MaxRetries != 5 || cfg.Push.BaseDelay != 500*time.Millisecond || cfg.Push.MaxDelay != 4*time.Second ||
		cfg.Push.TokenURI != "https://oauth2.googleapis.com/token" {
		t.Fatalf("push fields unexpected: %+v", cfg.Push)
	}

	// Fan-out
	if cfg.Fanout.WindowSize != 25 || cfg.Fanout.Budget != 90*time.Second || cfg.Fanout.InsertBatch != 200 || cfg.Fanout.Title != "Campus notice" {
		t.Fatalf("fanout fields unexpected: %+v", cfg.Fanout)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 1.0 || cfg.RateBurst != 5 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("invalid LOG_LEVEL", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatalf("expected LOG_LEVEL validation error")
		}
	})
	t.Run("empty PORT via spaces", func(t *testing.T) {
		t.Setenv("PORT", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "PORT must not be empty") {
			t.Fatalf("expected port validation error, got: %v", err)
		}
	})
	t.Run("non-positive timeouts", func(t *testing.T) {
		t.Setenv("READ_TIMEOUT", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "timeouts must be positive") {
			t.Fatalf("expected timeouts validation error, got: %v", err)
		}
	})
	t.Run("max header bytes <= 0", func(t *testing.T) {
		t.Setenv("MAX_HEADER_BYTES", "0")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_HEADER_BYTES") {
			t.Fatalf("expected MAX_HEADER_BYTES validation error, got: %v", err)
		}
	})
	t.Run("empty DB_PATH", func(t *testing.T) {
		t.Setenv("DB_PATH", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "DB_PATH must not be empty") {
			t.Fatalf("expected DB_PATH validation error, got: %v", err)
		}
	})
	t.Run("unknown DB_DRIVER", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "oracle")
		if _, err := Load(); err == nil || !containsErr(err, "DB_DRIVER") {
			t.Fatalf("expected DB_DRIVER validation error, got: %v", err)
		}
	})
	t.Run("postgres without DATABASE_URL", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "")
		if _, err := Load(); err == nil || !containsErr(err, "DATABASE_URL") {
			t.Fatalf("expected DATABASE_URL validation error, got: %v", err)
		}
	})
	t.Run("negative push retries", func(t *testing.T) {
		t.Setenv("PUSH_MAX_RETRIES", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "PUSH_MAX_RETRIES") {
			t.Fatalf("expected PUSH_MAX_RETRIES validation error, got: %v", err)
		}
	})
	t.Run("max delay below base delay", func(t *testing.T) {
		t.Setenv("PUSH_BASE_DELAY", "5s")
		t.Setenv("PUSH_MAX_DELAY", "1s")
		if _, err := Load(); err == nil || !containsErr(err, "PUSH_BASE_DELAY") {
			t.Fatalf("expected PUSH_BASE_DELAY validation error, got: %v", err)
		}
	})
	t.Run("window size < 1", func(t *testing.T) {
		t.Setenv("FANOUT_WINDOW_SIZE", "0")
		if _, err := Load(); err == nil || !containsErr(err, "FANOUT_WINDOW_SIZE") {
			t.Fatalf("expected FANOUT_WINDOW_SIZE validation error, got: %v", err)
		}
	})
	t.Run("insert batch < 1", func(t *testing.T) {
		t.Setenv("FANOUT_INSERT_BATCH", "0")
		if _, err := Load(); err == nil || !containsErr(err, "FANOUT_INSERT_BATCH") {
			t.Fatalf("expected FANOUT_INSERT_BATCH validation error, got: %v", err)
		}
	})
	t.Run("non-positive budget", func(t *testing.T) {
		t.Setenv("FANOUT_BUDGET", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "FANOUT_BUDGET") {
			t.Fatalf("expected FANOUT_BUDGET validation error, got: %v", err)
		}
	})
	t.Run("rate rps negative", func(t *testing.T) {
		t.Setenv("RATE_RPS", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_RPS") {
			t.Fatalf("expected RATE_RPS validation error, got: %v", err)
		}
	})
	t.Run("rate burst < 1", func(t *testing.T) {
		t.Setenv("RATE_BURST", "0")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_BURST") {
			t.Fatalf("expected RATE_BURST validation error, got: %v", err)
		}
	})
	t.Run("hsts max age negative", func(t *testing.T) {
		t.Setenv("HSTS_MAX_AGE", "-1s")
		if _, err := Load(); err == nil || !containsErr(err, "HSTS_MAX_AGE") {
			t.Fatalf("expected HSTS_MAX_AGE validation error, got: %v", err)
		}
	})
	t.Run("idempotency ttl non-positive", func(t *testing.T) {
		t.Setenv("IDEMPOTENCY_TTL", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "IDEMPOTENCY_TTL") {
			t.Fatalf("expected IDEMPOTENCY_TTL validation error, got: %v", err)
		}
	})
	t.Run("otel sample ratio out of range", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil || !containsErr(err, "OTEL_TRACES_SAMPLER_ARG") {
			t.Fatalf("expected OTEL_TRACES_SAMPLER_ARG validation error, got: %v", err)
		}
	})

	// Note: API_BASE_PATH validation is effectively unreachable due to normalizeBasePath
	// always ensuring a leading '/' and returning "/" for empty input.
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + config_strconv(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + config_strconv(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	// normalizeBasePath
	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

// small helper (avoid fmt just for ints)
func config_strconv(i int) string { return string('a' + rune(i)) }

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestLoad_Defaults_FanoutAndBasePath(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/functions/v1" {
		t.Fatalf("API_BASE_PATH default expected '/functions/v1', got %q", cfg.APIBasePath)
	}
	if cfg.Fanout.WindowSize != 50 || cfg.Fanout.Budget != 110*time.Second || cfg.Fanout.InsertBatch != 500 {
		t.Fatalf("fanout defaults unexpected: %+v", cfg.Fanout)
	}
	if cfg.Push.MaxRetries != 3 || cfg.Push.BaseDelay != time.Second || cfg.Push.MaxDelay != 10*time.Second {
		t.Fatalf("push retry defaults unexpected: %+v", cfg.Push)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "app.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	// 110s budget + 4 attempts x 10s + 1s+2s+4s backoff + 10s margin
	if cfg.WriteTimeout != 167*time.Second {
		t.Fatalf("derived write timeout = %v; want 167s", cfg.WriteTimeout)
	}
}

func TestPushConfig_WorstCaseSend(t *testing.T) {
	cases := []struct {
		name string
		p    PushConfig
		want time.Duration
	}{
		{"no retries", PushConfig{HTTPTimeout: 10 * time.Second, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, 10 * time.Second},
		{"defaults", PushConfig{HTTPTimeout: 10 * time.Second, MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, 47 * time.Second},
		{"capped delays", PushConfig{HTTPTimeout: time.Second, MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, 6*time.Second + (1+2+3+3+3)*time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.WorstCaseSend(); got != tc.want {
				t.Fatalf("WorstCaseSend() = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestLoad_WriteTimeoutMustCoverWorstCase(t *testing.T) {
	t.Run("too short for the defaults", func(t *testing.T) {
		t.Setenv("WRITE_TIMEOUT", "150s")
		if _, err := Load(); err == nil || !containsErr(err, "WRITE_TIMEOUT must be >= 2m47s") {
			t.Fatalf("expected WRITE_TIMEOUT validation error, got: %v", err)
		}
	})
	t.Run("derived default follows push tuning", func(t *testing.T) {
		t.Setenv("WRITE_TIMEOUT", "")
		t.Setenv("PUSH_MAX_RETRIES", "0")
		t.Setenv("PUSH_HTTP_TIMEOUT", "5s")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.WriteTimeout != 125*time.Second {
			t.Fatalf("WriteTimeout = %v; want 125s", cfg.WriteTimeout)
		}
	})
	t.Run("explicit value at the minimum is accepted", func(t *testing.T) {
		t.Setenv("WRITE_TIMEOUT", "167s")
		cfg, err := Load()
		if err != nil || cfg.WriteTimeout != 167*time.Second {
			t.Fatalf("cfg.WriteTimeout=%v err=%v", cfg.WriteTimeout, err)
		}
	})
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	// No special env needed; defaults are valid.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

func TestLoad_OTELTracesEndpointWins(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "traces:4317")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OTEL.Endpoint != "traces:4317" {
		t.Fatalf("endpoint = %q, want traces:4317", cfg.OTEL.Endpoint)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := otelEndpoint(); got != "localhost:4317" {
		t.Fatalf("fallback endpoint = %q", got)
	}
}
