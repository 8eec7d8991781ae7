package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is wrapped into the error returned when every
// attempt failed. The last attempt's error is wrapped alongside it.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Permanent marks err as not worth retrying. Retry returns the wrapped
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Result reports how a retry loop ended.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// Retry calls fn up to attempts times, sleeping per policy between
// failures. An attempts value below 1 is treated as 1. Cancellation of ctx
// stops the loop and returns ctx.Err().
func Retry[T any](
	ctx context.Context,
	policy Policy,
	attempts int,
	fn func(ctx context.Context, attempt int) (T, error),
	notify Notify,
) (Result[T], error) {
	var result Result[T]
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempts = attempt

		value, err := fn(ctx, attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			return result, perm.err
		}
		result.LastError = err

		if attempt == attempts {
			break
		}
		wait := policy.Delay(attempt)
		if notify != nil {
			notify(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return result, err
		}
	}

	return result, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, result.Attempts, result.LastError)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
