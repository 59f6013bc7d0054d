package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/geoquest.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`

	// RedisURL enables cross-instance event fan-out when set.
	RedisURL string `env:"REDIS_URL"`

	MapillaryToken   string `env:"MAPILLARY_ACCESS_TOKEN"`
	MapillaryBaseURL string `env:"MAPILLARY_BASE_URL" envDefault:"https://graph.mapillary.com"`
	ImageRadiusM     int    `env:"IMAGE_SEARCH_RADIUS_METERS" envDefault:"500"`

	PerturbRadiusKm      float64       `env:"PERTURB_RADIUS_KM" envDefault:"2"`
	ProvisionTimeout     time.Duration `env:"ROUND_PROVISION_TIMEOUT" envDefault:"20s"`
	ProvisionMaxAttempts int           `env:"ROUND_PROVISION_MAX_ATTEMPTS" envDefault:"100"`
	UpstreamMaxRetries   int           `env:"UPSTREAM_MAX_RETRIES" envDefault:"3"`
	GuessGrace           time.Duration `env:"GUESS_GRACE" envDefault:"2s"`
	TimeoutSweepInterval time.Duration `env:"TIMEOUT_SWEEP_INTERVAL" envDefault:"2s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.ProvisionMaxAttempts < 1 {
		return nil, fmt.Errorf("ROUND_PROVISION_MAX_ATTEMPTS must be positive, got %d", cfg.ProvisionMaxAttempts)
	}
	if cfg.PerturbRadiusKm < 0 {
		return nil, fmt.Errorf("PERTURB_RADIUS_KM must not be negative, got %v", cfg.PerturbRadiusKm)
	}
	if cfg.TimeoutSweepInterval <= 0 {
		return nil, fmt.Errorf("TIMEOUT_SWEEP_INTERVAL must be positive, got %v", cfg.TimeoutSweepInterval)
	}
	return &cfg, nil
}
