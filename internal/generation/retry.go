package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy bounds calls to the collaborator.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 2 * time.Minute, Backoff: 2 * time.Second}
}

// ErrEmptyOutput is returned when the collaborator answers with no code.
var ErrEmptyOutput = errors.New("collaborator returned empty source")

// UnavailableError reports that the collaborator could not produce source
// within the retry policy.
type UnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is (or wraps) an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Call runs fn under p: each attempt gets its own timeout, failed or empty
// attempts are retried with doubling backoff, and when the policy runs out
// (or ctx ends) an *UnavailableError is returned.
func Call(ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (string, error)) (string, error) {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Backoff > 0 {
			wait := p.Backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return "", &UnavailableError{Op: op, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", &UnavailableError{Op: op, Attempts: attempt - 1, Err: err}
		}

		out, err := callOnce(ctx, p.Timeout, fn)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyOutput
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", &UnavailableError{Op: op, Attempts: attempts, Err: lastErr}
}

func callOnce(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
