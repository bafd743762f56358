package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// ForecastTimeSource returns the distinct forecast_time values stored for a
// run, exactly as the driver scanned them.
type ForecastTimeSource interface {
	ForecastTimes(ctx context.Context, run time.Time) ([]any, error)
}

// Tracker computes which offsets of a run are already persisted and caches
// runs found complete so they are not rescanned on every tick.
type Tracker struct {
	source ForecastTimeSource
	logger *slog.Logger

	mu       sync.Mutex
	complete map[int64]struct{} // run unix seconds
}

// NewTracker creates a Tracker reading from source.
func NewTracker(source ForecastTimeSource, logger *slog.Logger) *Tracker {
	return &Tracker{
		source:   source,
		logger:   logger,
		complete: make(map[int64]struct{}),
	}
}

// Existing returns the offsets with at least one persisted record.
// Values that cannot be parsed as timestamps are skipped.
func (t *Tracker) Existing(ctx context.Context, run time.Time) (domain.OffsetSet, error) {
	values, err := t.source.ForecastTimes(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("existing offsets for %s: %w", domain.FormatRun(run), err)
	}

	existing := make(domain.OffsetSet, len(values))
	skipped := 0
	for _, v := range values {
		ts, ok := domain.ParseTimestamp(v)
		if !ok {
			skipped++
			continue
		}
		offset, ok := domain.OffsetOf(run, ts)
		if !ok {
			skipped++
			continue
		}
		existing.Add(offset)
	}
	if skipped > 0 {
		t.logger.Debug("skipped unparseable forecast times", "run", domain.FormatRun(run), "count", skipped)
	}
	return existing, nil
}

// Missing returns Required() minus Existing(run). A run found to have no
// missing offsets is remembered as complete.
func (t *Tracker) Missing(ctx context.Context, run time.Time) (domain.OffsetSet, error) {
	existing, err := t.Existing(ctx, run)
	if err != nil {
		return nil, err
	}
	missing := domain.Required().Difference(existing)
	if missing.Len() == 0 {
		t.MarkComplete(run)
	}
	return missing, nil
}

// Status reports existing/missing counts for a run.
func (t *Tracker) Status(ctx context.Context, run time.Time) (domain.RunStatus, error) {
	missing, err := t.Missing(ctx, run)
	if err != nil {
		return domain.RunStatus{}, err
	}
	return domain.RunStatus{
		RunTime:  run.UTC(),
		Existing: domain.RequiredCount - missing.Len(),
		Missing:  missing.Len(),
		Complete: missing.Len() == 0,
	}, nil
}

// IsComplete reports whether run was previously found complete.
func (t *Tracker) IsComplete(run time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.complete[run.Unix()]
	return ok
}

// MarkComplete caches run as complete.
func (t *Tracker) MarkComplete(run time.Time) {
	t.mu.Lock()
	t.complete[run.Unix()] = struct{}{}
	t.mu.Unlock()
}

// Forget drops cached completeness for runs strictly before cutoff.
func (t *Tracker) Forget(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.complete {
		if k < cutoff.Unix() {
			delete(t.complete, k)
		}
	}
}
