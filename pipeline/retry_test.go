package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limnc/flaked/errors"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Wait: 20 * time.Millisecond}
	var notified []int

	start := time.Now()
	got, err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errors.Newf("attempt %d failed", attempt)
		}
		return "ok", nil
	}, func(err error, attempt int, next time.Duration) {
		notified = append(notified, attempt)
		assert.Equal(t, 20*time.Millisecond, next)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []int{1, 2}, notified)
	assert.GreaterOrEqual(t, time.Since(start), 2*policy.Wait)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 3}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("down")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "gave up after 3 attempt(s)")
	assert.Contains(t, err.Error(), "down")
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 1, Wait: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("down")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Retry(ctx, RetryPolicy{Attempts: 5, Wait: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("down")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
