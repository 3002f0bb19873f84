// README: Config loader tests.
package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr == "" {
		t.Error("expected a default http addr")
	}
	if cfg.DB.DSN == "" {
		t.Error("expected a default db dsn")
	}
	if cfg.Redis.Addr == "" {
		t.Error("expected a default redis addr")
	}
	if cfg.Dispatch.AcceptanceWindow <= 0 {
		t.Errorf("acceptance window must be positive, got %v", cfg.Dispatch.AcceptanceWindow)
	}
	if cfg.Dispatch.SweepTick <= 0 {
		t.Errorf("sweep tick must be positive, got %v", cfg.Dispatch.SweepTick)
	}
	if cfg.Dispatch.SearchRadiusKm <= 0 {
		t.Errorf("search radius must be positive, got %v", cfg.Dispatch.SearchRadiusKm)
	}
	if cfg.Credit.LoanPeriod < 24*time.Hour {
		t.Errorf("loan period must be at least a day, got %v", cfg.Credit.LoanPeriod)
	}
	if cfg.Assistant.SessionTTL <= 0 {
		t.Errorf("session ttl must be positive, got %v", cfg.Assistant.SessionTTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HEMOHIVE_HTTP_ADDR", ":9999")
	t.Setenv("HEMOHIVE_JWT_SECRET", "override-secret")
	t.Setenv("HEMOHIVE_ACCEPT_WINDOW_SECONDS", "90")
	t.Setenv("HEMOHIVE_LOAN_PERIOD_DAYS", "14")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("expected :9999, got %s", cfg.HTTP.Addr)
	}
	if cfg.Auth.JWTSecret != "override-secret" {
		t.Errorf("expected override-secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Dispatch.AcceptanceWindow != 90*time.Second {
		t.Errorf("expected 90s window, got %v", cfg.Dispatch.AcceptanceWindow)
	}
	if cfg.Credit.LoanPeriod != 14*24*time.Hour {
		t.Errorf("expected 14-day loan period, got %v", cfg.Credit.LoanPeriod)
	}
}

func TestLoadRejectsBadDispatchTuning(t *testing.T) {
	t.Setenv("HEMOHIVE_ACCEPT_WINDOW_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero acceptance window")
	}

	t.Setenv("HEMOHIVE_ACCEPT_WINDOW_SECONDS", "60")
	t.Setenv("HEMOHIVE_SEARCH_RADIUS_KM", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative search radius")
	}
}
