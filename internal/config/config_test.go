package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"APP_ADMIN_USER", "APP_ADMIN_OTP", "APP_DATABASE_URL", "APP_LISTEN_ADDR",
		"APP_SESSION_TTL_HOURS", "APP_MFA_TTL_MINUTES", "APP_KAFKA_BROKERS", "APP_RANDOM_SEED",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.AdminUser != "admin" || cfg.AdminOTP != "000000" {
		t.Fatalf("unexpected admin defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "sqlite://data/energytiles.db" || cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected storage/listen defaults: %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.MFATTL != 5*time.Minute {
		t.Fatalf("unexpected TTLs: %v %v", cfg.SessionTTL, cfg.MFATTL)
	}
	if cfg.AllowAdminRegister {
		t.Fatal("admin registration should be off by default")
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.RandomSeed != 0 {
		t.Fatalf("unexpected optional values: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_SESSION_TTL_HOURS", "2")
	t.Setenv("APP_MFA_TTL_MINUTES", "bogus")
	t.Setenv("APP_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("APP_RANDOM_SEED", "99")
	t.Setenv("APP_ALLOW_ADMIN_REGISTER", "true")

	cfg := Load()
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("SessionTTL = %v, want 2h", cfg.SessionTTL)
	}
	if cfg.MFATTL != 5*time.Minute {
		t.Fatalf("invalid MFA TTL should keep the default, got %v", cfg.MFATTL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.RandomSeed != 99 || !cfg.AllowAdminRegister {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}
