package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestCORSMiddleware_DisabledPassesThroughWithoutHeaders(t *testing.T) {
	handler := CORSMiddleware(&CORSConfig{Enabled: false})(noopHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Origin", "https://app.medlingua.example")
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_AllowsExactOriginMatch(t *testing.T) {
	handler := CORSMiddleware(&CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.medlingua.example"},
	})(noopHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Origin", "https://app.medlingua.example")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.medlingua.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_RejectsUnlistedOrigin(t *testing.T) {
	handler := CORSMiddleware(&CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.medlingua.example"},
	})(noopHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_PreflightOptionsShortCircuitsWithNoContent(t *testing.T) {
	called := false
	handler := CORSMiddleware(&CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://app.medlingua.example")
	handler.ServeHTTP(rec, req)

	assert.False(t, called, "preflight should not reach the wrapped handler")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIsOriginAllowed_WildcardSubdomainMatch(t *testing.T) {
	assert.True(t, isOriginAllowed("https://tenant1.medlingua.example", []string{"https://*.medlingua.example"}))
	assert.False(t, isOriginAllowed("https://tenant1.evil.example", []string{"https://*.medlingua.example"}))
}

func TestIsOriginAllowed_EmptyOriginIsNeverAllowed(t *testing.T) {
	assert.False(t, isOriginAllowed("", []string{"*"}))
}
