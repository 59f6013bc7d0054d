package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

type ProvisionerConfig struct {
	PerturbRadiusKm    float64
	ImageRadiusM       int
	Timeout            time.Duration
	MaxAttempts        int
	UpstreamMaxRetries int
	// NewBackOff paces retries after upstream errors. Defaults to an
	// exponential backoff starting at 200ms.
	NewBackOff func() backoff.BackOff
}

// Candidate is a playable location: a perturbed catalog point with imagery.
type Candidate struct {
	Location geoquest.Location
	Lat      float64
	Lng      float64
	ImageID  string
}

// Provisioner samples catalog locations until one has imagery nearby.
type Provisioner struct {
	catalog Catalog
	imagery Imagery
	cfg     ProvisionerConfig
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewProvisioner(catalog Catalog, imagery Imagery, cfg ProvisionerConfig, rng *rand.Rand, logger *slog.Logger) *Provisioner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}
	return &Provisioner{catalog: catalog, imagery: imagery, cfg: cfg, rng: rng, logger: logger}
}

// Find returns a playable location for region. Missing locations or imagery
// are retried silently; upstream errors are retried with backoff up to
// UpstreamMaxRetries times. Running out of attempts, retries or time yields
// geoquest.ErrUpstreamUnavailable.
func (p *Provisioner) Find(ctx context.Context, region geoquest.Region) (Candidate, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	bo := backoff.WithContext(p.cfg.NewBackOff(), ctx)

	failures := 0
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Candidate{}, fmt.Errorf("%w: provisioning stopped after %d attempts: %w", geoquest.ErrUpstreamUnavailable, attempt-1, err)
		}

		c, err := p.try(ctx, region)
		if err == nil {
			p.logger.Debug("location provisioned", "attempt", attempt, "location", c.Location.Name, "image_id", c.ImageID)
			return c, nil
		}
		if errors.Is(err, geoquest.ErrNoLocation) || errors.Is(err, geoquest.ErrNoImagery) {
			p.logger.Debug("discarding candidate", "attempt", attempt, "reason", err)
			continue
		}
		if ctx.Err() != nil {
			return Candidate{}, fmt.Errorf("%w: provisioning stopped: %w", geoquest.ErrUpstreamUnavailable, ctx.Err())
		}

		failures++
		p.logger.Warn("upstream lookup failed", "attempt", attempt, "failures", failures, "error", err)
		if failures > p.cfg.UpstreamMaxRetries {
			return Candidate{}, fmt.Errorf("%w: %w", geoquest.ErrUpstreamUnavailable, err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return Candidate{}, fmt.Errorf("%w: %w", geoquest.ErrUpstreamUnavailable, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Candidate{}, fmt.Errorf("%w: provisioning stopped: %w", geoquest.ErrUpstreamUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
	return Candidate{}, fmt.Errorf("%w: no playable location after %d attempts", geoquest.ErrUpstreamUnavailable, p.cfg.MaxAttempts)
}

func (p *Provisioner) try(ctx context.Context, region geoquest.Region) (Candidate, error) {
	loc, err := p.catalog.RandomLocation(ctx, region)
	if err != nil {
		return Candidate{}, err
	}

	lat, lng := p.perturb(loc.Lat, loc.Lng)

	imageID, err := p.imagery.NearestImage(ctx, lat, lng, p.cfg.ImageRadiusM)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Location: loc, Lat: lat, Lng: lng, ImageID: imageID}, nil
}

func (p *Provisioner) perturb(lat, lng float64) (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return geo.Perturb(p.rng, lat, lng, p.cfg.PerturbRadiusKm)
}
