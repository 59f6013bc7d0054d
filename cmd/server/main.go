package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/geoquest/internal/catalog"
	"github.com/playperu/geoquest/internal/config"
	"github.com/playperu/geoquest/internal/database"
	"github.com/playperu/geoquest/internal/game"
	"github.com/playperu/geoquest/internal/handler/health"
	"github.com/playperu/geoquest/internal/imagery"
	"github.com/playperu/geoquest/internal/migrations"
	"github.com/playperu/geoquest/internal/realtime"
	"github.com/playperu/geoquest/internal/server"
	"github.com/playperu/geoquest/internal/store"
	"github.com/playperu/geoquest/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Realtime ---
	broker := realtime.NewBroker()
	var publisher game.Publisher = broker
	var relay *realtime.RedisRelay
	optional := map[string]health.Checker{}

	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		relay = realtime.NewRedisRelay(rdb, broker, logger)
		publisher = relay
		optional["redis"] = redisChecker{rdb}
	}

	// --- Game ---
	var img game.Imagery = imagery.Offline{}
	if cfg.MapillaryToken != "" {
		img = imagery.NewMapillary(cfg.MapillaryBaseURL, cfg.MapillaryToken, &http.Client{Timeout: 10 * time.Second})
		logger.Info("using mapillary imagery", "base_url", cfg.MapillaryBaseURL)
	} else {
		logger.Warn("MAPILLARY_ACCESS_TOKEN not set, using offline imagery")
	}

	cat := catalog.New(db)
	prov := game.NewProvisioner(cat, img, game.ProvisionerConfig{
		PerturbRadiusKm:    cfg.PerturbRadiusKm,
		ImageRadiusM:       cfg.ImageRadiusM,
		Timeout:            cfg.ProvisionTimeout,
		MaxAttempts:        cfg.ProvisionMaxAttempts,
		UpstreamMaxRetries: cfg.UpstreamMaxRetries,
	}, nil, logger)
	games := game.NewService(store.New(db), cat, prov, publisher, logger, game.Options{
		GuessGrace: cfg.GuessGrace,
	})
	sweeper := worker.NewSweeper(games, cfg.TimeoutSweepInterval, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Games:   games,
		Regions: cat,
		Broker:  broker,
		SPADir:  cfg.SPADir,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": dbChecker{db},
		}, optional).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
