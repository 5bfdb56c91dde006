package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medlingua/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := &RetryConfig{
		Name: "quick", MaxAttempts: 3, InitialDelay: time.Millisecond,
		MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, Retryable: DefaultRetryable,
	}
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, boom)
}

func TestRetry_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	cfg := &RetryConfig{
		Name: "quick", MaxAttempts: 5, InitialDelay: time.Millisecond,
		MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, Retryable: DefaultRetryable,
	}
	validationErr := core.NewDomainError(core.KindValidation, "bad input", nil)
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return validationErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	cfg := &RetryConfig{
		Name: "slow", MaxAttempts: 10, InitialDelay: 50 * time.Millisecond,
		MaxDelay: time.Second, BackoffFactor: 2, Retryable: DefaultRetryable,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, cfg, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAPIRetryable_RetriesRateLimit(t *testing.T) {
	rateLimitErr := core.NewDomainError(core.KindRateLimit, "too many requests", nil)
	assert.True(t, APIRetryable(rateLimitErr))
}

func TestRetryWithCircuitBreaker_OpenBreakerShortCircuits(t *testing.T) {
	cfg := testConfig("retry-with-breaker")
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, "open", cb.GetState())

	calls := 0
	err = RetryWithCircuitBreaker(context.Background(), DefaultRetryConfig(), cb, func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls, "breaker should reject before fn ever runs")
}
