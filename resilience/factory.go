package resilience

import (
	"github.com/medlingua/pipeline/core"
)

// Dependencies holds the optional collaborators a resilience primitive can
// be wired with (logger, metrics). Kept as a small struct rather than
// constructor parameters so call sites can add fields without breaking
// every caller.
type Dependencies struct {
	Logger  core.Logger
	Metrics MetricsCollector
}

// DependencyOption mutates a Dependencies value.
type DependencyOption func(*Dependencies)

// WithLogger injects a logger.
func WithLogger(logger core.Logger) DependencyOption {
	return func(d *Dependencies) { d.Logger = logger }
}

// WithMetrics injects a metrics collector.
func WithMetrics(metrics MetricsCollector) DependencyOption {
	return func(d *Dependencies) { d.Metrics = metrics }
}

func resolveDependencies(opts ...DependencyOption) Dependencies {
	var deps Dependencies
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.Logger == nil {
		deps.Logger = core.NewProductionLogger(
			core.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			core.DevelopmentConfig{},
			"resilience",
		)
	}
	if deps.Metrics == nil {
		deps.Metrics = &noopMetrics{}
	}
	return deps
}

// NewNamedCircuitBreaker builds a circuit breaker for an external service
// name (e.g. "llm:openai", "ocr_service", "pii_service") using the shared
// defaults, with any supplied dependency options applied.
func NewNamedCircuitBreaker(name string, opts ...DependencyOption) (*CircuitBreaker, error) {
	deps := resolveDependencies(opts...)

	config := DefaultConfig()
	config.Name = name
	config.Logger = deps.Logger
	config.Metrics = deps.Metrics

	config.Logger.Info("creating circuit breaker", map[string]interface{}{
		"name":              name,
		"failure_threshold": config.FailureThreshold,
		"success_threshold": config.SuccessThreshold,
		"recovery_timeout":  config.RecoveryTimeout.String(),
	})

	return NewCircuitBreaker(config)
}
