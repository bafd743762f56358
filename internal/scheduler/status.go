package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// RunLister lists the runs present in storage.
type RunLister interface {
	ListRuns(ctx context.Context) ([]time.Time, error)
}

// Reporter answers completeness queries for the status API and CLI.
type Reporter struct {
	lister  RunLister
	tracker *Tracker
}

// NewReporter creates a Reporter.
func NewReporter(lister RunLister, tracker *Tracker) *Reporter {
	return &Reporter{lister: lister, tracker: tracker}
}

// Runs returns the status of every stored run, newest first.
func (r *Reporter) Runs(ctx context.Context) ([]domain.RunStatus, error) {
	runs, err := r.lister.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	slices.SortFunc(runs, func(a, b time.Time) int { return b.Compare(a) })

	out := make([]domain.RunStatus, 0, len(runs))
	for _, run := range runs {
		st, err := r.tracker.Status(ctx, run)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Missing returns the missing offsets of run in ascending order.
func (r *Reporter) Missing(ctx context.Context, run time.Time) ([]int, error) {
	missing, err := r.tracker.Missing(ctx, run)
	if err != nil {
		return nil, err
	}
	return missing.Sorted(), nil
}
