// Package ratelimit bounds the process-wide rate of outbound requests.
//
// A Limiter enforces two rules at once: no more than Max grants in any rolling
// Window, and at least Spacing between consecutive grants. Callers reserve a
// grant time under a mutex and then sleep outside it, so waiting callers never
// hold the lock.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults match the NOMADS fair-use guidance.
const (
	DefaultMax     = 120
	DefaultWindow  = time.Minute
	DefaultSpacing = 500 * time.Millisecond
)

// Limiter is a sliding-window limiter with a minimum spacing between grants.
// It is safe for concurrent use.
type Limiter struct {
	clock   clockwork.Clock
	max     int
	window  time.Duration
	spacing time.Duration

	mu     sync.Mutex
	grants []time.Time // ascending, at most max entries
}

// New creates a Limiter. Non-positive arguments fall back to the defaults,
// except spacing where zero disables the spacing rule.
func New(clock clockwork.Clock, maxPerWindow int, window, spacing time.Duration) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if spacing < 0 {
		spacing = DefaultSpacing
	}
	return &Limiter{
		clock:   clock,
		max:     maxPerWindow,
		window:  window,
		spacing: spacing,
		grants:  make([]time.Time, 0, maxPerWindow),
	}
}

// Wait blocks until the caller may issue one request. It returns early with
// the context's error if ctx is done first; the reserved slot is not returned.
func (l *Limiter) Wait(ctx context.Context) error {
	_, err := l.wait(ctx)
	return err
}

func (l *Limiter) wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	now := l.clock.Now()
	at := l.reserve(now)
	l.mu.Unlock()

	d := at.Sub(now)
	if d <= 0 {
		return 0, nil
	}
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-l.clock.After(d):
		return d, nil
	}
}

// reserve returns the earliest grant time at or after now that satisfies both
// rules and records it. Caller must hold l.mu.
func (l *Limiter) reserve(now time.Time) time.Time {
	at := now
	if n := len(l.grants); n > 0 {
		if next := l.grants[n-1].Add(l.spacing); next.After(at) {
			at = next
		}
		if n >= l.max {
			// Strictly after the window closes, so even a closed interval
			// of one window length never holds more than max grants.
			if free := l.grants[n-l.max].Add(l.window + time.Nanosecond); free.After(at) {
				at = free
			}
		}
	}

	if len(l.grants) == l.max {
		copy(l.grants, l.grants[1:])
		l.grants = l.grants[:l.max-1]
	}
	l.grants = append(l.grants, at)
	return at
}

// Transport gates every request through a Limiter before handing it to Base.
type Transport struct {
	Base    http.RoundTripper
	Limiter *Limiter

	// WaitSeconds, if set, observes how long each request was held back.
	WaitSeconds prometheus.Observer
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	waited, err := t.Limiter.wait(req.Context())
	if t.WaitSeconds != nil {
		t.WaitSeconds.Observe(waited.Seconds())
	}
	if err != nil {
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
