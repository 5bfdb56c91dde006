package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name string) *CircuitBreakerConfig {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 20 * time.Millisecond
	return cfg
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("opens-after-failures"))
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", cb.GetState())

	err = cb.Execute(context.Background(), func() error { return nil })
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "opens-after-failures", cbErr.ServiceName)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := testConfig("half-open-recovery")
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, "open", cb.GetState())

	time.Sleep(cfg.RecoveryTimeout + 5*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		err := cb.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, err)
	}
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := testConfig("half-open-reopen")
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	time.Sleep(cfg.RecoveryTimeout + 5*time.Millisecond)

	err = cb.Execute(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreaker_NonClassifiedErrorDoesNotCountAsFailure(t *testing.T) {
	cfg := testConfig("not-found-ignored")
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return context.Canceled })
	}
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("reset"))
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, "open", cb.GetState())

	cb.Reset()
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FailureThreshold = 0
	assert.Error(t, cfg.Validate())
}
