package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/adapter/archive"
	httpadapter "github.com/couchcryptid/gfs-ingest-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/gfs-ingest-service/internal/adapter/kafka"
	"github.com/couchcryptid/gfs-ingest-service/internal/adapter/nomads"
	"github.com/couchcryptid/gfs-ingest-service/internal/adapter/store"
	"github.com/couchcryptid/gfs-ingest-service/internal/adapter/wgrib2"
	"github.com/couchcryptid/gfs-ingest-service/internal/config"
	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/observability"
	"github.com/couchcryptid/gfs-ingest-service/internal/ratelimit"
	"github.com/couchcryptid/gfs-ingest-service/internal/scheduler"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("gfs ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	region := domain.Region{
		LatMin: cfg.RegionLatMin,
		LatMax: cfg.RegionLatMax,
		LonMin: cfg.RegionLonMin,
		LonMax: cfg.RegionLonMax,
	}
	if err := region.Validate(); err != nil {
		return fmt.Errorf("%w: region: %w", config.ErrConfig, err)
	}

	profile := domain.DefaultProfile()
	if cfg.FieldProfile != "" {
		if profile, err = domain.LoadProfile(cfg.FieldProfile); err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}
	}

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	tp, shutdownTracing, err := observability.NewTracerProvider(ctx, cfg.OTLPEndpoint, "gfs-ingest")
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	if cfg.DBMigrate {
		if err := store.Migrate(cfg.DBDriver, cfg.DBDSN); err != nil {
			return err
		}
		logger.Info("database migrated", "driver", cfg.DBDriver)
	}
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		return err
	}

	observers := scheduler.Observers{observability.NewLogObserver(logger, metrics)}
	var publisher *kafkaadapter.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, clock, logger)
		observers = append(observers, publisher)
		logger.Info("event publisher enabled", "topic", cfg.KafkaEventsTopic)
	}

	defer func() {
		var errs *multierror.Error
		if publisher != nil {
			errs = multierror.Append(errs, publisher.Close())
		}
		errs = multierror.Append(errs, db.Close())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		errs = multierror.Append(errs, shutdownTracing(shutdownCtx))
		if cerr := errs.ErrorOrNil(); cerr != nil {
			logger.Error("close resources", "error", cerr)
		}
	}()

	limiter := ratelimit.New(clock, cfg.RateLimitMax, cfg.RateLimitWindow, cfg.RateLimitSpacing)
	transport := &ratelimit.Transport{Base: http.DefaultTransport, Limiter: limiter, WaitSeconds: metrics.RateLimitWait}
	client := nomads.NewClient(nomads.Config{
		Mode:              cfg.RetrievalMode,
		BaseURLs:          cfg.NomadsBaseURLs,
		FilterURL:         cfg.NomadsFilterURL,
		Levels:            cfg.FilterLevels,
		Variables:         cfg.FilterVariables,
		Region:            region,
		FetchTimeout:      cfg.HTTPTimeout,
		ProbeTimeout:      cfg.ProbeTimeout,
		RetryAfterDefault: cfg.RetryAfterDefault,
	}, transport, clock, metrics, logger)

	decoder := wgrib2.NewDecoder(cfg.Wgrib2Path, profile, logger)

	var sink scheduler.RecordSink = db
	if cfg.ArchiveDir != "" {
		if sink, err = archive.NewSink(db, cfg.ArchiveDir, cfg.ArchiveCompression, metrics, logger); err != nil {
			return err
		}
		logger.Info("parquet archive enabled", "dir", cfg.ArchiveDir, "compression", cfg.ArchiveCompression)
	}

	backoff := scheduler.FixedBackoff(cfg.BackoffInitial)
	if cfg.BackoffMode == "exponential" {
		backoff = scheduler.ExponentialBackoff(cfg.BackoffInitial, cfg.BackoffMax)
	}
	jobPolicy := scheduler.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: backoff}

	tracker := scheduler.NewTracker(db, logger)
	locator := scheduler.NewLocator(tracker, client, scheduler.LocatorConfig{
		Lookback: cfg.LookbackRuns,
		MaxAge:   cfg.MaxRunAge,
		Probe:    scheduler.Policy{MaxAttempts: 2, Backoff: scheduler.FixedBackoff(10 * time.Second)},
	}, clock, observers, logger)
	pool := scheduler.NewPool(client, decoder, sink, region, jobPolicy, clock, logger,
		scheduler.WithObserver(observers),
		scheduler.WithTracer(tp.Tracer("github.com/couchcryptid/gfs-ingest-service/internal/scheduler")),
	)
	pruner := scheduler.NewPruner(db, tracker, cfg.KeepRuns, observers, logger)
	driver := scheduler.NewDriver(locator, pool, tracker, pruner, scheduler.DriverConfig{
		Mode:          scheduler.Mode(cfg.ScheduleMode),
		Concurrency:   cfg.WorkerConcurrency,
		CheckInterval: cfg.CheckInterval,
		PollInterval:  cfg.PollInterval,
		PublishDelay:  cfg.PublishDelay,
		Cooldown:      cfg.Cooldown,
		Lookback:      cfg.LookbackRuns,
		MaxAge:        cfg.MaxRunAge,
	}, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr,
		httpadapter.ReadinessGroup{db, driver},
		scheduler.NewReporter(db, tracker),
		logger,
	)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("gfs ingest starting",
		"region", region,
		"db_driver", cfg.DBDriver,
		"retrieval", cfg.RetrievalMode,
		"schedule", cfg.ScheduleMode,
	)
	if err := driver.Run(ctx); err != nil {
		logger.Error("acquisition driver error", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
