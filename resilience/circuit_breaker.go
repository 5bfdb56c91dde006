package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/medlingua/pipeline/core"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests and fails fast.
	StateOpen
	// StateHalfOpen allows a single probe request through to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker events for monitoring.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier determines which errors count toward the failure threshold.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors, not user errors.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) {
		return false
	}
	if core.IsNotFound(err) {
		return false
	}
	if core.IsStateError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	var de *core.DomainError
	if errors.As(err, &de) {
		return core.IsRetryableKind(de.Kind)
	}
	return true
}

// CircuitBreakerError is returned when the circuit is open and a call is
// rejected without being attempted. It carries enough detail for the
// caller to surface a 503 with a retry-after hint.
type CircuitBreakerError struct {
	ServiceName     string
	FailureCount    int
	State           string
	RetryAfterSecs  int
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s (failures=%d, retry_after=%ds)",
		e.ServiceName, e.State, e.FailureCount, e.RetryAfterSecs)
}

func (e *CircuitBreakerError) Unwrap() error { return core.ErrCircuitBreakerOpen }

// CircuitBreakerConfig configures a single named circuit breaker.
//
// The state machine is a simple consecutive-failure counter, not a
// sliding-window error rate: after FailureThreshold consecutive failures
// the breaker opens; after RecoveryTimeout it admits one probe; after
// SuccessThreshold consecutive probe successes it closes; any probe
// failure reopens it immediately.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
	Metrics          MetricsCollector
}

// DefaultConfig returns production-ready defaults matching the platform's
// documented resilience presets (5 consecutive failures, 60s recovery,
// 2 consecutive successes to close).
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// CircuitBreaker protects a named external dependency from repeated calls
// while it is failing.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	consecutiveSuccess  int
	lastFailureAt       time.Time
	openedAt            time.Time
	probeInFlight       bool

	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker validates config and constructs a breaker in the
// closed state.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// Validate checks the configuration for obviously broken values.
func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery timeout must be non-negative, got %v", c.RecoveryTimeout)
	}
	return nil
}

// SetLogger swaps the logger, tagging it with the resilience component
// when the logger supports component scoping.
func (cb *CircuitBreaker) SetLogger(logger core.Logger) {
	if logger == nil {
		cb.config.Logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		cb.config.Logger = cal.WithComponent("resilience/circuit_breaker")
		return
	}
	cb.config.Logger = logger
}

// Execute runs fn under circuit breaker protection, recovering panics as
// errors so a single bad call cannot crash the worker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.admit() {
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return cb.openError()
	}

	err := cb.run(ctx, fn)
	cb.complete(err)
	return err
}

func (cb *CircuitBreaker) run(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic in circuit breaker '%s': %v\n%s", cb.config.Name, r, stack)
			cb.config.Logger.Error("circuit breaker caught panic", map[string]interface{}{
				"name":  cb.config.Name,
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return fn()
}

// admit decides whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the recovery timeout has elapsed. Only one probe is admitted per
// half-open period.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// complete records the outcome of an admitted call and evaluates the next
// state transition.
func (cb *CircuitBreaker) complete(err error) {
	countsAsFailure := err != nil && cb.config.ErrorClassifier(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false

	if !countsAsFailure {
		cb.handleSuccessLocked()
		return
	}
	cb.handleFailureLocked(err)
}

func (cb *CircuitBreaker) handleSuccessLocked() {
	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateHalfOpen:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccess++
		if cb.consecutiveSuccess >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	default:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccess = 0
	}
}

func (cb *CircuitBreaker) handleFailureLocked(err error) {
	cb.lastFailureAt = time.Now()
	errType := fmt.Sprintf("%T", err)
	if err != nil {
		cb.config.Metrics.RecordFailure(cb.config.Name, errType)
	}

	switch cb.state {
	case StateHalfOpen:
		// Any probe failure reopens immediately; the counter restarts at 1.
		cb.consecutiveFailures = 1
		cb.consecutiveSuccess = 0
		cb.transitionLocked(StateOpen)
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionLocked(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	if next == StateOpen {
		cb.openedAt = time.Now()
	}
	if next == StateHalfOpen {
		cb.consecutiveSuccess = 0
	}

	cb.config.Logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.config.Name,
		"from": prev.String(),
		"to":   next.String(),
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, prev.String(), next.String())
	for _, l := range cb.listeners {
		go l(cb.config.Name, prev, next)
	}
}

func (cb *CircuitBreaker) openError() error {
	cb.mu.Lock()
	retryAfter := cb.config.RecoveryTimeout - time.Since(cb.openedAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	failures := cb.consecutiveFailures
	state := cb.state.String()
	cb.mu.Unlock()

	return &CircuitBreakerError{
		ServiceName:    cb.config.Name,
		FailureCount:   failures,
		State:          state,
		RetryAfterSecs: int(retryAfter.Seconds()),
	}
}

// AddStateChangeListener registers a callback invoked (in its own
// goroutine) on every state transition.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, listener)
	cb.mu.Unlock()
}

// GetState returns the current state name.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// GetMetrics returns a snapshot suitable for a status/health endpoint.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":                 cb.config.Name,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"consecutive_success":  cb.consecutiveSuccess,
		"opened_at":            cb.openedAt,
		"last_failure_at":      cb.lastFailureAt,
	}
}

// Reset forces the breaker back to closed, clearing counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	prev := cb.state
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccess = 0
	cb.probeInFlight = false
	cb.config.Logger.Info("circuit breaker reset", map[string]interface{}{
		"name":           cb.config.Name,
		"previous_state": prev.String(),
	})
}

// CanExecute reports whether a call would currently be admitted, without
// consuming the single half-open probe slot. Kept for call sites (and
// tests) written against the legacy boolean-gate style used throughout
// the retry combinator.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.openedAt) >= cb.config.RecoveryTimeout
	case StateHalfOpen:
		return !cb.probeInFlight
	default:
		return false
	}
}

// RecordSuccess records a successful call outside of Execute (legacy
// two-step CanExecute/RecordSuccess call style).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	cb.probeInFlight = false
	cb.handleSuccessLocked()
	cb.mu.Unlock()
}

// RecordFailure records a failed call outside of Execute.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	cb.probeInFlight = false
	cb.handleFailureLocked(errors.New("recorded failure"))
	cb.mu.Unlock()
}

// NewCircuitBreakerWithConfig constructs a breaker, discarding the
// validation error (kept for call sites that pre-validate their config).
func NewCircuitBreakerWithConfig(config *CircuitBreakerConfig) *CircuitBreaker {
	cb, _ := NewCircuitBreaker(config)
	return cb
}
