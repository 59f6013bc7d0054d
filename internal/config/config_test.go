package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
	if cfg.PerturbRadiusKm != 2 {
		t.Errorf("PerturbRadiusKm = %v, want 2", cfg.PerturbRadiusKm)
	}
	if cfg.ProvisionTimeout != 20*time.Second {
		t.Errorf("ProvisionTimeout = %v, want 20s", cfg.ProvisionTimeout)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ROUND_PROVISION_TIMEOUT", "5s")
	t.Setenv("MAPILLARY_ACCESS_TOKEN", "MLY|123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.ProvisionTimeout != 5*time.Second {
		t.Errorf("ProvisionTimeout = %v, want 5s", cfg.ProvisionTimeout)
	}
	if cfg.MapillaryToken != "MLY|123" {
		t.Errorf("MapillaryToken = %q", cfg.MapillaryToken)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"zero attempts", "ROUND_PROVISION_MAX_ATTEMPTS", "0"},
		{"negative radius", "PERTURB_RADIUS_KM", "-1"},
		{"bad duration", "GUESS_GRACE", "soon"},
		{"zero sweep interval", "TIMEOUT_SWEEP_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%s: expected error", tt.key, tt.value)
			}
		})
	}
}
