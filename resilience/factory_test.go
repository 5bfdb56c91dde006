package resilience

import (
	"testing"

	"github.com/medlingua/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNamedCircuitBreaker_DefaultsWithoutOptions(t *testing.T) {
	cb, err := NewNamedCircuitBreaker("ocr_service")
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.GetState())
	assert.Equal(t, "ocr_service", cb.config.Name)
	assert.Equal(t, DefaultConfig().FailureThreshold, cb.config.FailureThreshold)
}

func TestNewNamedCircuitBreaker_AppliesLoggerOption(t *testing.T) {
	logger := &core.NoOpLogger{}
	cb, err := NewNamedCircuitBreaker("pii_service", WithLogger(logger))
	require.NoError(t, err)
	assert.Same(t, logger, cb.config.Logger)
}
