package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// assertLimits checks both invariants over an ascending list of grant times.
func assertLimits(t *testing.T, grants []time.Time, maxPerWindow int, window, spacing time.Duration) {
	t.Helper()
	for i := 1; i < len(grants); i++ {
		require.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), spacing, "grant %d spacing", i)
	}
	for i := maxPerWindow; i < len(grants); i++ {
		require.Greater(t, grants[i].Sub(grants[i-maxPerWindow]), window,
			"grants %d..%d fit inside one closed window", i-maxPerWindow, i)
	}
}

func TestReserve_BurstHonorsSpacing(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 120, time.Minute, 500*time.Millisecond)

	grants := make([]time.Time, 0, 300)
	for range 300 {
		grants = append(grants, l.reserve(epoch))
	}

	assert.Equal(t, epoch, grants[0])
	assert.Equal(t, epoch.Add(500*time.Millisecond), grants[1])
	assert.Equal(t, epoch.Add(60*time.Second+time.Nanosecond), grants[120])
	assertLimits(t, grants, 120, time.Minute, 500*time.Millisecond)
}

func TestReserve_WindowCapWithoutSpacing(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 3, time.Minute, 0)

	var grants []time.Time
	for range 7 {
		grants = append(grants, l.reserve(epoch))
	}

	next := epoch.Add(time.Minute + time.Nanosecond)
	want := []time.Time{
		epoch, epoch, epoch,
		next, next, next,
		next.Add(time.Minute + time.Nanosecond),
	}
	assert.Equal(t, want, grants)
}

func TestReserve_RandomArrivals(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 10, 10*time.Second, 200*time.Millisecond)
	rng := rand.New(rand.NewPCG(1, 2))

	now := epoch
	var grants []time.Time
	for range 500 {
		now = now.Add(time.Duration(rng.IntN(1500)) * time.Millisecond)
		at := l.reserve(now)
		require.False(t, at.Before(now), "grant never precedes the request")
		grants = append(grants, at)
	}
	assertLimits(t, grants, 10, 10*time.Second, 200*time.Millisecond)
}

func TestReserve_IdleCallerIsNotDelayed(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 120, time.Minute, 500*time.Millisecond)

	l.reserve(epoch)
	later := epoch.Add(10 * time.Second)
	assert.Equal(t, later, l.reserve(later))
}

func TestWait_BlocksUntilSpacingElapses(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := New(clock, 120, time.Minute, 500*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx), "first grant is immediate")

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	blockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))

	select {
	case <-done:
		t.Fatal("second Wait returned before the spacing elapsed")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second Wait did not return after advancing the clock")
	}
}

func TestWait_Cancelled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := New(clock, 1, time.Hour, 0)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	blockCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored cancellation")
	}
}

func TestWait_ConcurrentCallersShareOneSchedule(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 5, time.Minute, 0)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(context.Background()))
		}()
	}
	wg.Wait()

	// The window is now full, so the next reservation lands a full window later.
	l.mu.Lock()
	next := l.reserve(epoch)
	l.mu.Unlock()
	assert.Equal(t, epoch.Add(time.Minute+time.Nanosecond), next)
}

func TestReserve_ClosedWindowNeverExceedsCap(t *testing.T) {
	l := New(clockwork.NewFakeClockAt(epoch), 120, time.Minute, 0)

	var grants []time.Time
	for range 121 {
		grants = append(grants, l.reserve(epoch))
	}

	end := epoch.Add(time.Minute)
	inside := 0
	for _, g := range grants {
		if !g.After(end) {
			inside++
		}
	}
	assert.Equal(t, 120, inside, "[t0, t0+window] holds at most the cap")
	assert.True(t, grants[120].After(end))
}

func TestTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &Transport{Limiter: New(clockwork.NewRealClock(), 10, time.Minute, 0)}}
	for range 3 {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(3), hits.Load())

	t.Run("cancelled request never reaches the server", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		_, err = client.Do(req)
		require.Error(t, err)
		assert.Equal(t, int32(3), hits.Load())
	})
}
