package config

import (
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
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")

	// Edge rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 10.0
	t.Setenv("RATE_BURST", "nope") // -> default 20

	// Domain limits
	t.Setenv("MESSAGE_LIMIT_MAX", "5")
	t.Setenv("MESSAGE_LIMIT_WINDOW", "30s")
	t.Setenv("CONVERSATION_LIMIT_MAX", "2")
	t.Setenv("CONVERSATION_LIMIT_WINDOW", "2h")
	t.Setenv("LIMIT_SWEEP_INTERVAL", "1m")
	t.Setenv("CONVERSATION_REUSE_WINDOW", "45m")
	t.Setenv("MESSAGE_MAX_RUNES", "500")

	// Retention
	t.Setenv("RETENTION_MAX_AGE", "168h")
	t.Setenv("RETENTION_INTERVAL", "6h")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// Admin
	t.Setenv("ADMIN_JWT_SECRET", "secret")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("ADMIN_TOKEN_TTL", "8h")

	// Telegram
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
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
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" {
		t.Fatalf("db path unexpected: %+v", cfg)
	}

	// Edge rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 10.0 || cfg.RateBurst != 20 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Domain limits
	if cfg.Limits.MessageMax != 5 ||
		cfg.Limits.MessageWindow != 30*time.Second ||
		cfg.Limits.ConversationMax != 2 ||
		cfg.Limits.ConversationWindow != 2*time.Hour ||
		cfg.Limits.SweepInterval != time.Minute ||
		cfg.Limits.ReuseWindow != 45*time.Minute ||
		cfg.Limits.MaxBodyRunes != 500 {
		t.Fatalf("limits unexpected: %+v", cfg.Limits)
	}

	// Retention
	if cfg.Retention.MaxAge != 168*time.Hour || cfg.Retention.Interval != 6*time.Hour {
		t.Fatalf("retention unexpected: %+v", cfg.Retention)
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

	// Admin
	if cfg.Admin.JWTSecret != "secret" || cfg.Admin.Password != "hunter2" || cfg.Admin.TokenTTL != 8*time.Hour {
		t.Fatalf("admin unexpected: %+v", cfg.Admin)
	}

	// Telegram
	if cfg.Telegram.BotToken != "bot-token" || cfg.Telegram.ChatID != "-100123" {
		t.Fatalf("telegram unexpected: %+v", cfg.Telegram)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"non-positive timeout", map[string]string{"READ_TIMEOUT": "-1s"}, "timeouts"},
		{"bad MAX_HEADER_BYTES", map[string]string{"MAX_HEADER_BYTES": "-1"}, "MAX_HEADER_BYTES"},
		{"negative RATE_RPS", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"zero RATE_BURST", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"zero message limit", map[string]string{"MESSAGE_LIMIT_MAX": "0"}, "fixed-window limits"},
		{"negative window", map[string]string{"MESSAGE_LIMIT_WINDOW": "-1m"}, "fixed-window durations"},
		{"bad sweep interval", map[string]string{"LIMIT_SWEEP_INTERVAL": "-5m"}, "LIMIT_SWEEP_INTERVAL"},
		{"bad reuse window", map[string]string{"CONVERSATION_REUSE_WINDOW": "-1h"}, "CONVERSATION_REUSE_WINDOW"},
		{"bad body cap", map[string]string{"MESSAGE_MAX_RUNES": "0"}, "MESSAGE_MAX_RUNES"},
		{"bad retention", map[string]string{"RETENTION_MAX_AGE": "-1h"}, "retention"},
		{"bad idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "-1h"}, "IDEMPOTENCY_TTL"},
		{"bad admin token ttl", map[string]string{"ADMIN_TOKEN_TTL": "-1h"}, "ADMIN_TOKEN_TTL"},
		{"bad sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api":     "/api",
		"/api/":   "/api",
		" /api/ ": "/api",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("B1", "on")
	t.Setenv("B2", "OFF")
	t.Setenv("B3", "maybe")
	if !getbool("B1", false) || getbool("B2", true) || !getbool("B3", true) {
		t.Fatal("getbool parsing unexpected")
	}
}
