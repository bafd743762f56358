package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/scheduler"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ExistingParsesDefensively(t *testing.T) {
	run := epoch
	store := newMemStore()
	store.seed(run, 0, 1, 2, 5)
	store.extra[run.Unix()] = []any{"not a timestamp", nil, 42.0, run.Add(-6 * time.Hour)}
	tracker := scheduler.NewTracker(store, discardLogger())

	existing, err := tracker.Existing(context.Background(), run)
	require.NoError(t, err)

	if diff := cmp.Diff([]int{0, 1, 2, 5}, existing.Sorted()); diff != "" {
		t.Errorf("existing offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_MissingIsIdempotentSubset(t *testing.T) {
	run := epoch
	store := newMemStore()
	store.seed(run, 0, 1, 2, 121, 999)
	tracker := scheduler.NewTracker(store, discardLogger())
	ctx := context.Background()

	first, err := tracker.Missing(ctx, run)
	require.NoError(t, err)
	second, err := tracker.Missing(ctx, run)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 206, first.Len())
	required := domain.Required()
	for o := range first {
		assert.True(t, required.Has(o), "offset %d not in required set", o)
	}
	assert.False(t, tracker.IsComplete(run))
}

func TestTracker_CompletionCache(t *testing.T) {
	older := epoch
	newer := epoch.Add(6 * time.Hour)
	store := newMemStore()
	store.seedComplete(older)
	store.seedComplete(newer)
	tracker := scheduler.NewTracker(store, discardLogger())
	ctx := context.Background()

	missing, err := tracker.Missing(ctx, older)
	require.NoError(t, err)
	assert.Zero(t, missing.Len())
	assert.True(t, tracker.IsComplete(older))

	tracker.MarkComplete(newer)
	tracker.Forget(newer)
	assert.False(t, tracker.IsComplete(older), "runs before the cutoff are forgotten")
	assert.True(t, tracker.IsComplete(newer), "the cutoff itself is kept")
}

func TestTracker_StorageError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	tracker := scheduler.NewTracker(store, discardLogger())

	_, err := tracker.Missing(context.Background(), epoch)
	require.ErrorContains(t, err, "connection refused")
}

func TestTracker_Status(t *testing.T) {
	store := newMemStore()
	store.seed(epoch, 0, 1, 2)
	tracker := scheduler.NewTracker(store, discardLogger())

	st, err := tracker.Status(context.Background(), epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatus{RunTime: epoch, Existing: 3, Missing: 206, Complete: false}, st)
}
