package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// DefaultKeepRuns is how many complete runs retention keeps.
const DefaultKeepRuns = 2

// RunStore lists stored runs and deletes old ones.
type RunStore interface {
	ListRuns(ctx context.Context) ([]time.Time, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CompletionCache is a CompletionTracker whose cache can be trimmed.
type CompletionCache interface {
	CompletionTracker
	Forget(cutoff time.Time)
}

// Pruner keeps the newest keep complete runs and deletes every row whose run
// is strictly older than the oldest kept one. Incomplete runs newer than that
// cutoff are never touched.
type Pruner struct {
	store    RunStore
	tracker  CompletionCache
	keep     int
	observer Observer
	logger   *slog.Logger
}

// NewPruner creates a Pruner. keep below 1 uses DefaultKeepRuns.
func NewPruner(store RunStore, tracker CompletionCache, keep int, observer Observer, logger *slog.Logger) *Pruner {
	if keep < 1 {
		keep = DefaultKeepRuns
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Pruner{store: store, tracker: tracker, keep: keep, observer: observer, logger: logger}
}

// Prune applies the retention rule once. If fewer than keep complete runs
// exist nothing is deleted and the returned summary has a zero cutoff.
func (p *Pruner) Prune(ctx context.Context) (domain.PruneSummary, error) {
	runs, err := p.store.ListRuns(ctx)
	if err != nil {
		return domain.PruneSummary{}, fmt.Errorf("list runs: %w", err)
	}
	slices.SortFunc(runs, func(a, b time.Time) int { return b.Compare(a) })

	kept := make([]time.Time, 0, p.keep)
	for _, run := range runs {
		if len(kept) == p.keep {
			break
		}
		complete := p.tracker.IsComplete(run)
		if !complete {
			missing, err := p.tracker.Missing(ctx, run)
			if err != nil {
				return domain.PruneSummary{}, err
			}
			complete = missing.Len() == 0
		}
		if complete {
			kept = append(kept, run)
		}
	}

	if len(kept) < p.keep {
		p.logger.Debug("not enough complete runs to prune", "complete", len(kept), "keep", p.keep)
		return domain.PruneSummary{Kept: kept}, nil
	}

	cutoff := kept[len(kept)-1]
	deleted, err := p.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return domain.PruneSummary{}, &domain.StorageError{Op: "delete runs", Err: err}
	}
	p.tracker.Forget(cutoff)

	summary := domain.PruneSummary{Cutoff: cutoff, Kept: kept, DeletedRows: deleted}
	p.observer.RunsPruned(summary)
	return summary, nil
}
