package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCall_SucceedsAfterRetry tests that a transient failure is retried.
func TestCall_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	out, err := Call(context.Background(), RetryPolicy{Attempts: 3}, "synthesize", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("rate limited")
		}
		return "int x;", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "int x;", out)
	assert.Equal(t, 2, calls)
}

// TestCall_Unavailable tests exhaustion of the retry policy.
func TestCall_Unavailable(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), RetryPolicy{Attempts: 3}, "repair", func(ctx context.Context) (string, error) {
		calls++
		return "   ", nil
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrEmptyOutput)

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "repair", ue.Op)
	assert.Equal(t, 3, ue.Attempts)
}

// TestCall_PerAttemptTimeout tests that a hung attempt is abandoned.
func TestCall_PerAttemptTimeout(t *testing.T) {
	start := time.Now()
	_, err := Call(context.Background(), RetryPolicy{Attempts: 2, Timeout: 20 * time.Millisecond}, "synthesize", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestCall_ParentCancelled tests that a cancelled context stops retrying.
func TestCall_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Call(ctx, RetryPolicy{Attempts: 5, Backoff: time.Hour}, "synthesize", func(ctx context.Context) (string, error) {
		calls++
		return "x", nil
	})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 0, calls)
}
