package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/medlingua/pipeline/core"
)

// RetryableFunc decides whether an error returned by the wrapped call
// should trigger another attempt. Nil means "use DefaultRetryable".
type RetryableFunc func(error) bool

// RetryConfig configures exponential-backoff retry with jitter.
type RetryConfig struct {
	Name          string
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
	Retryable     RetryableFunc
}

// DefaultRetryConfig is the balanced preset used when a call site does not
// name a more specific one.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "default",
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		Retryable:     DefaultRetryable,
	}
}

// AggressiveRetryConfig retries more, faster — for idempotent calls to
// services known to recover quickly (e.g. the OCR microservice).
func AggressiveRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "aggressive",
		MaxAttempts:   5,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 1.8,
		JitterEnabled: true,
		Retryable:     DefaultRetryable,
	}
}

// ConservativeRetryConfig retries sparingly with long backoff — for calls
// that are expensive to repeat (large LLM prompts).
func ConservativeRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "conservative",
		MaxAttempts:   2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 3.0,
		JitterEnabled: true,
		Retryable:     DefaultRetryable,
	}
}

// APIRetryConfig is tuned for external HTTP APIs (LLM/PII/guideline
// services): more attempts and a higher MaxDelay than the default preset.
// Rate-limit errors are retried under the same MaxDelay ceiling as every
// other transient failure.
func APIRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "api",
		MaxAttempts:   4,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      20 * time.Second,
		BackoffFactor: 2.5,
		JitterEnabled: true,
		Retryable:     APIRetryable,
	}
}

// DatabaseRetryConfig is tuned for short-lived connection blips against
// Postgres: fast, few attempts, small ceiling.
func DatabaseRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "database",
		MaxAttempts:   3,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		Retryable:     DefaultRetryable,
	}
}

// DefaultRetryable retries transient errors (timeout, unavailable,
// connection, rate limit) and never retries a circuit-open, validation,
// not-found, or auth error.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrCircuitBreakerOpen) {
		return false
	}
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return false
	}
	var de *core.DomainError
	if errors.As(err, &de) {
		return core.IsRetryableKind(de.Kind)
	}
	// Errors with no domain classification (e.g. raw network errors from
	// a client that hasn't wrapped them yet) are treated as transient.
	return true
}

// APIRetryable is DefaultRetryable plus explicit handling for rate limits,
// which should still be retried (with the config's longer ceiling) rather
// than treated as a hard failure.
func APIRetryable(err error) bool {
	var de *core.DomainError
	if errors.As(err, &de) && de.Kind == core.KindRateLimit {
		return true
	}
	return DefaultRetryable(err)
}

// Retry executes fn, retrying according to config's backoff policy and
// retryability predicate.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryable := config.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		// Sine-based jitter varies the delay from attempt to attempt
		// without a random source; it depends only on the attempt number,
		// so workers retrying in lockstep get the same delays.
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %q: %w", config.MaxAttempts, config.Name, lastErr)
}

// RetryWithCircuitBreaker composes a circuit breaker and a retry policy:
// breaker -> retry -> call. A circuit-open rejection is surfaced
// immediately without consuming a retry attempt's backoff delay, since
// DefaultRetryable/APIRetryable both refuse to retry it.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
