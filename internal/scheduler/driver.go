package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Mode selects how the driver sleeps between idle ticks.
type Mode string

const (
	// ModePeriodic wakes every CheckInterval.
	ModePeriodic Mode = "periodic"
	// ModeCadence sleeps until the next cycle is due to publish, then polls
	// every PollInterval while any published candidate run is incomplete.
	ModeCadence Mode = "cadence"
)

// RunLocator picks the run that needs work.
type RunLocator interface {
	Locate(ctx context.Context) (time.Time, bool, error)
}

// PassRunner executes one worker pool pass.
type PassRunner interface {
	Run(ctx context.Context, run time.Time, offsets []int, concurrency int) PassResult
}

// RetentionPruner deletes runs older than the retained complete runs.
type RetentionPruner interface {
	Prune(ctx context.Context) (domain.PruneSummary, error)
}

// DriverConfig holds the scheduling parameters.
type DriverConfig struct {
	Mode          Mode
	Concurrency   int
	CheckInterval time.Duration
	PollInterval  time.Duration
	PublishDelay  time.Duration
	Cooldown      time.Duration
	Lookback      int           // candidate slots checked before a long cadence sleep
	MaxAge        time.Duration // candidates older than this are ignored
}

// Driver is the acquisition loop: locate a run, run pool passes until it is
// complete or stops making progress, prune, sleep.
type Driver struct {
	locator RunLocator
	pool    PassRunner
	tracker CompletionTracker
	pruner  RetentionPruner
	cfg     DriverConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewDriver creates a Driver. A nil pruner disables retention.
func NewDriver(locator RunLocator, pool PassRunner, tracker CompletionTracker, pruner RetentionPruner, cfg DriverConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Driver {
	if cfg.Mode == "" {
		cfg.Mode = ModePeriodic
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 6
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}
	return &Driver{
		locator: locator,
		pool:    pool,
		tracker: tracker,
		pruner:  pruner,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the driver has completed its first tick.
func (d *Driver) CheckReadiness(_ context.Context) error {
	if !d.ready.Load() {
		return errors.New("acquisition driver has not completed a tick yet")
	}
	return nil
}

// Run loops until ctx is cancelled. It always returns nil; individual tick
// failures are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("acquisition driver started", "mode", d.cfg.Mode, "concurrency", d.cfg.Concurrency)
	d.metrics.DriverRunning.Set(1)
	defer d.metrics.DriverRunning.Set(0)

	for {
		if ctx.Err() != nil {
			d.logger.Info("acquisition driver stopping", "reason", ctx.Err())
			return nil
		}

		worked, err := d.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("acquisition tick failed", "error", err)
		}
		d.ready.Store(true)
		if worked {
			continue
		}

		wait := d.idleWait(d.clock.Now())
		d.logger.Debug("acquisition driver idle", "wait", wait)
		if !sleepWithContext(ctx, d.clock, wait) {
			d.logger.Info("acquisition driver stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// Tick locates a run and acquires it. It reports whether any pass ran, so
// the caller re-locates right away instead of sleeping.
func (d *Driver) Tick(ctx context.Context) (bool, error) {
	run, ok, err := d.locator.Locate(ctx)
	if err != nil {
		return false, fmt.Errorf("locate run: %w", err)
	}
	if !ok {
		return false, nil
	}
	return true, d.Acquire(ctx, run)
}

// Acquire runs passes over the missing offsets of run until none remain or a
// pass makes no progress. A pass with no successes waits Cooldown before
// returning so the caller re-checks availability.
func (d *Driver) Acquire(ctx context.Context, run time.Time) error {
	for {
		missing, err := d.tracker.Missing(ctx, run)
		if err != nil {
			return fmt.Errorf("missing offsets: %w", err)
		}
		if missing.Len() == 0 {
			d.logger.Info("run complete", "run", domain.FormatRun(run))
			return nil
		}

		res := d.pool.Run(ctx, run, missing.Sorted(), d.cfg.Concurrency)
		if ctx.Err() != nil {
			return nil
		}

		if res.Succeeded > 0 {
			d.prune(ctx)
			continue
		}

		d.logger.Info("pass made no progress, cooling down",
			"run", domain.FormatRun(run),
			"missing", missing.Len(),
			"not_published", res.NotPublished,
			"cooldown", d.cfg.Cooldown,
		)
		sleepWithContext(ctx, d.clock, d.cfg.Cooldown)
		return nil
	}
}

func (d *Driver) prune(ctx context.Context) {
	if d.pruner == nil {
		return
	}
	if _, err := d.pruner.Prune(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("retention prune failed", "error", err)
	}
}

// idleWait is how long to sleep when no run needs work. Cadence mode never
// sleeps past PollInterval while a published candidate run is incomplete.
func (d *Driver) idleWait(now time.Time) time.Duration {
	if d.cfg.Mode != ModeCadence {
		return d.cfg.CheckInterval
	}

	var wait time.Duration
	slot := domain.RunSlot(now)
	if published := slot.Add(d.cfg.PublishDelay); now.Before(published) {
		wait = published.Sub(now)
	} else {
		wait = slot.Add(domain.CycleInterval).Add(d.cfg.PublishDelay).Sub(now)
	}
	if d.pendingRun(now) {
		wait = min(wait, d.cfg.PollInterval)
	}
	return wait
}

// pendingRun reports whether a candidate inside MaxAge is past its expected
// publication time and not yet known complete.
func (d *Driver) pendingRun(now time.Time) bool {
	for _, run := range domain.CandidateRuns(now, d.cfg.Lookback) {
		if now.Sub(run) > d.cfg.MaxAge || now.Before(run.Add(d.cfg.PublishDelay)) {
			continue
		}
		if !d.tracker.IsComplete(run) {
			return true
		}
	}
	return false
}
