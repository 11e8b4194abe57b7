// Package retry implements the backoff policy shared by the outbound
// clients (search, extraction, synthesis, store reads).
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientError marks a failure worth retrying: timeouts, connection
// resets, provider 429/5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Policy controls how many times an operation runs and how long the
// waits between attempts grow.
type Policy struct {
	MaxAttempts int              // total attempts, not retries; minimum 1
	BaseDelay   time.Duration    // wait before the second attempt
	MaxDelay    time.Duration    // backoff ceiling, 0 means uncapped
	Retryable   func(error) bool // nil means IsTransient
}

// Default is the policy used by the tool wrappers: one retry after a
// short backoff.
func Default() Policy {
	return Policy{MaxAttempts: 2, BaseDelay: 300 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs op until it succeeds, exhausts attempts, or returns a
// non-retryable error. The backoff doubles per attempt and honors ctx
// cancellation during waits.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.BaseDelay * time.Duration(1<<(attempt-1))
			if p.MaxDelay > 0 && backoff > p.MaxDelay {
				backoff = p.MaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}
