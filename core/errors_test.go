package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_ErrorIncludesWrappedCause(t *testing.T) {
	wrapped := WrapDomainError(KindConnection, "dial failed", errors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.Contains(t, wrapped.Error(), "dial failed")
}

func TestDomainError_UnwrapReturnsUnderlyingError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := WrapDomainError(KindInternal, "failed", cause)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestIsRetryableKind_TransientKindsAreRetryable(t *testing.T) {
	for _, k := range []ErrorKind{KindRateLimit, KindTimeout, KindServiceUnavailable, KindConnection} {
		assert.True(t, IsRetryableKind(k), "%s should be retryable", k)
	}
}

func TestIsRetryableKind_TerminalKindsAreNotRetryable(t *testing.T) {
	for _, k := range []ErrorKind{KindValidation, KindNotFound, KindUnauthorized, KindForbidden, KindCircuitOpen, KindTerminated} {
		assert.False(t, IsRetryableKind(k), "%s should not be retryable", k)
	}
}

func TestNewDomainError_CarriesDetails(t *testing.T) {
	err := NewDomainError(KindValidation, "bad input", map[string]interface{}{"field": "target_language"})
	assert.Equal(t, "target_language", err.Details["field"])
	assert.Nil(t, err.Unwrap())
}
