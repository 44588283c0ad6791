package config

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Port != 8443 {
		t.Fatalf("Server.Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.FAPI.OpenBankingAudience != "open-banking-api" {
		t.Fatalf("FAPI.OpenBankingAudience = %q, want open-banking-api", cfg.FAPI.OpenBankingAudience)
	}
	if !cfg.FAPI.RequireMTLS {
		t.Fatalf("expected RequireMTLS default to be true")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "openfinance",
		Password: "secret",
		Name:     "core",
		SSLMode:  "require",
	}
	want := "host=db.internal port=5432 user=openfinance password=secret dbname=core sslmode=require"
	if got := cfg.ConnectionString(); got != want {
		t.Fatalf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestApplyDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override")
	cfg := New()
	applyDatabaseURLOverride(cfg)
	if cfg.Database.DSN != "postgres://override" {
		t.Fatalf("DSN = %q, want override applied", cfg.Database.DSN)
	}
}
