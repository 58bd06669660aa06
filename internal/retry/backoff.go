// Package retry provides the bounded backoff used when a non-blocking
// descriptor stalls, and a circuit breaker guarding shell spawns.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  The backoff loop returns the
// inner error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff retries an operation with exponentially growing pauses.
// A stalled socket write is retried for a few milliseconds at most, so
// there is no jitter and the budget is small.
type Backoff struct {
	// InitialDelay is the pause before the second attempt (default 2ms).
	InitialDelay time.Duration
	// MaxDelay caps a single pause (default 50ms).
	MaxDelay time.Duration
	// MaxAttempts is the total number of tries including the first
	// (default 5).  There is no unlimited mode.
	MaxAttempts int
}

// WriteStallBackoff is the policy used by util.WriteAll.
func WriteStallBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		MaxAttempts:  5,
	}
}

// Do runs fn until it returns nil, a permanent error, or the attempt
// budget is spent.  The attempt number passed to fn is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = 2 * time.Millisecond
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 50 * time.Millisecond
	}
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if attempt >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
