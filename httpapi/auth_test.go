package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medlingua/pipeline/core"
	"github.com/stretchr/testify/assert"
)

type denyAllAuthenticator struct{}

func (denyAllAuthenticator) Authenticate(r *http.Request) error {
	return core.NewDomainError(core.KindUnauthorized, "no credentials", nil)
}

func TestRequireAdmin_PassesThroughOnSuccessfulAuth(t *testing.T) {
	called := false
	handler := requireAdmin(DevAuthenticator{}, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/x", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin_WritesErrorEnvelopeOnAuthFailure(t *testing.T) {
	called := false
	handler := requireAdmin(denyAllAuthenticator{}, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/x", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
