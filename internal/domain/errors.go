package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotPublished means the upstream has not produced the artifact yet.
var ErrNotPublished = errors.New("artifact not yet published")

// RateLimitedError is returned when the upstream asks the caller to slow down.
// Waiting on it never consumes a job's attempt budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// DecodeError wraps a failure to turn an artifact into records.
type DecodeError struct {
	Job Job
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Job, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError wraps a rejected storage operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryAfter extracts the server-provided delay from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
