package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/example/superapp-dispatch/internal/config"
	"github.com/example/superapp-dispatch/internal/dispatch"
	"github.com/example/superapp-dispatch/internal/geo"
	httpapi "github.com/example/superapp-dispatch/internal/http"
	"github.com/example/superapp-dispatch/internal/ingest"
	"github.com/example/superapp-dispatch/internal/lifecycle"
	"github.com/example/superapp-dispatch/internal/logging"
	"github.com/example/superapp-dispatch/internal/matcher"
	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/storage"
	"github.com/example/superapp-dispatch/internal/trips"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.New(os.Stdout, cfg.LogLevel, "dispatch-api")
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	roster, err := config.LoadRoster(cfg.RosterFile)
	if err != nil {
		logger.Error("load roster", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewMemoryStore(roster)
	svc := trips.New(store, matcher.New(store, nil), logger)
	svc.Projection = geo.Projection{
		Bounds: geo.Bounds{MinLat: cfg.MapMinLat, MaxLat: cfg.MapMaxLat, MinLon: cfg.MapMinLon, MaxLon: cfg.MapMaxLon},
		Frame:  geo.Frame{Width: cfg.MapWidth, Height: cfg.MapHeight},
	}
	svc.TrackWindow = cfg.TrackWindow
	if svc.TrackWindow == 0 {
		rideTrack, _ := lifecycle.TrackFor(models.KindRide)
		svc.TrackWindow = rideTrack.Travel(cfg.TimeUnit)
	}

	hub := dispatch.NewHub(logger)
	svc.AddSink("ws", hub)

	var closers []func() error
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		svc.AddSink("kafka", kp)
		closers = append(closers, kp.Close)
		logger.Info("kafka trip events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		svc.Mirror = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		closers = append(closers, rc.Close)
		logger.Info("redis driver mirror enabled", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}
	if cfg.PGDSN != "" {
		archive, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres archive unavailable", "error", err)
		} else {
			if cfg.RunMigrations {
				if err := archive.Migrate(ctx, cfg.MigrationPath); err != nil {
					logger.Error("migration failed", "path", cfg.MigrationPath, "error", err)
				} else {
					logger.Info("migration applied", "path", cfg.MigrationPath)
				}
			}
			svc.Archive = archive
			closers = append(closers, archive.Close)
		}
	}
	svc.SeedMirror(ctx)

	sched := lifecycle.NewScheduler(clockwork.NewRealClock(), cfg.TimeUnit, svc, logger)
	svc.Lifecycle = sched

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, hub, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr, "drivers", len(roster), "time_unit", cfg.TimeUnit.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := sched.Close(shutdownCtx); err != nil {
		logger.Warn("lifecycle tasks still running at exit", "active", sched.Active(), "error", err)
	}
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Warn("close integration", "error", err)
		}
	}
	logger.Info("shutdown complete")
}
