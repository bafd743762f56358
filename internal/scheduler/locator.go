package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Prober checks whether the upstream has published the artifact for an offset.
type Prober interface {
	Available(ctx context.Context, run time.Time, offset int) (bool, error)
}

// CompletionTracker is the subset of Tracker the locator and driver use.
type CompletionTracker interface {
	Missing(ctx context.Context, run time.Time) (domain.OffsetSet, error)
	IsComplete(run time.Time) bool
}

// LocatorConfig bounds which candidate runs are considered.
type LocatorConfig struct {
	Lookback int           // candidate slots, newest first
	MaxAge   time.Duration // candidates older than this are assumed retired upstream
	Probe    Policy        // retry policy for availability probes
}

// Locator decides which run needs acquisition work right now.
type Locator struct {
	tracker  CompletionTracker
	prober   Prober
	cfg      LocatorConfig
	clock    clockwork.Clock
	observer Observer
	logger   *slog.Logger
}

// NewLocator creates a Locator. A nil observer discards events.
func NewLocator(tracker CompletionTracker, prober Prober, cfg LocatorConfig, clock clockwork.Clock, observer Observer, logger *slog.Logger) *Locator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 6
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Locator{tracker: tracker, prober: prober, cfg: cfg, clock: clock, observer: observer, logger: logger}
}

// Locate returns the newest candidate run that has missing offsets and whose
// lowest missing offset is already published upstream. It returns false when
// no candidate needs work. Storage errors abort the scan; probe errors only
// skip the affected candidate.
func (l *Locator) Locate(ctx context.Context) (time.Time, bool, error) {
	now := l.clock.Now()
	for _, run := range domain.CandidateRuns(now, l.cfg.Lookback) {
		if err := ctx.Err(); err != nil {
			return time.Time{}, false, err
		}
		if now.Sub(run) > l.cfg.MaxAge {
			continue
		}
		if l.tracker.IsComplete(run) {
			continue
		}

		missing, err := l.tracker.Missing(ctx, run)
		if err != nil {
			return time.Time{}, false, err
		}
		if missing.Len() == 0 {
			continue
		}

		lowest, _ := missing.Min()
		probed, ok := l.probe(ctx, run, lowest)
		if !ok {
			continue
		}
		l.observer.RunLocated(domain.RunLocated{RunTime: run, Missing: missing.Len(), ProbedOffset: probed})
		return run, true, nil
	}
	return time.Time{}, false, nil
}

// probe checks the lowest missing offset, falling back to offset 0 when the
// check itself fails. It returns the offset that answered and whether the run
// is available.
func (l *Locator) probe(ctx context.Context, run time.Time, lowest int) (int, bool) {
	available, err := l.available(ctx, run, lowest)
	if err == nil {
		return lowest, available
	}
	if ctx.Err() != nil {
		return lowest, false
	}
	l.logger.Warn("availability probe failed",
		"run", domain.FormatRun(run), "offset", lowest, "error", err)
	if lowest == 0 {
		return lowest, false
	}

	available, err = l.available(ctx, run, 0)
	if err != nil {
		l.logger.Warn("fallback availability probe failed",
			"run", domain.FormatRun(run), "offset", 0, "error", err)
		return 0, false
	}
	return 0, available
}

func (l *Locator) available(ctx context.Context, run time.Time, offset int) (bool, error) {
	var available bool
	_, err := l.cfg.Probe.Do(ctx, l.clock, func(ctx context.Context, _ int) error {
		ok, err := l.prober.Available(ctx, run, offset)
		available = ok
		return err
	})
	return available, err
}
