package config

import (
	"testing"
	"time"

	"github.com/congo-pay/congo_ledger/internal/funding"
)

func TestLoadDevDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ROUND_CAP_POLICY", "")
	t.Setenv("DEFAULT_CURRENCY", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultCurrency != "USD" || cfg.RoundCapPolicy != funding.CapUncapped {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsDev() {
		t.Fatalf("production must not be dev")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("ROUND_CAP_POLICY", "target")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("COMMAND_RATE_LIMIT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IdempotencyTTL != 90*time.Minute || cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.DefaultCurrency != "EUR" || cfg.RoundCapPolicy != funding.CapAtTarget || cfg.CommandRateLimit != 5 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	for key, value := range map[string]string{
		"DEFAULT_CURRENCY":   "XYZ",
		"ROUND_CAP_POLICY":   "soft",
		"COMMAND_RATE_LIMIT": "many",
		"IDEMPOTENCY_TTL":    "forever",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
