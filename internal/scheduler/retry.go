package scheduler

import (
	"context"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Policy is the retry policy shared by every upstream call: availability
// probes, artifact fetches and the decode/store steps that follow them.
type Policy struct {
	// MaxAttempts is the per-job attempt budget. Values below 1 mean 1.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means every error not marked domain.Permanent.
	Retryable func(error) bool
}

// FixedBackoff waits d between every attempt.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles from initial after each attempt, capped at maxBackoff.
func ExponentialBackoff(initial, maxBackoff time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt; i++ {
			d = nextBackoff(d, maxBackoff)
		}
		return min(d, maxBackoff)
	}
}

// DefaultRetryable retries everything except errors marked permanent.
func DefaultRetryable(err error) bool {
	return !domain.IsPermanent(err)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return DefaultRetryable(err)
	}
	return p.Retryable(err)
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx is done. A domain.RateLimitedError waits for the
// server-provided delay and retries the same attempt without consuming the
// budget. No backoff follows the final attempt. Do returns the number of
// budgeted attempts made.
func (p Policy) Do(ctx context.Context, clock clockwork.Clock, op func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		if wait, ok := domain.RetryAfter(err); ok {
			if !sleepWithContext(ctx, clock, wait) {
				return attempt, ctx.Err()
			}
			continue
		}

		if !p.retryable(err) || attempt >= p.maxAttempts() {
			return attempt, err
		}
		if !sleepWithContext(ctx, clock, p.backoff(attempt)) {
			return attempt, ctx.Err()
		}
		attempt++
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
