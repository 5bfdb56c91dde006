package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testLogger records only that a call happened and at what level, enough
// to assert on LoggingMiddleware's level-selection logic.
type testLogger struct {
	onLog func(level string)
}

func (l *testLogger) Info(string, map[string]interface{})  { l.onLog("info") }
func (l *testLogger) Error(string, map[string]interface{}) { l.onLog("error") }
func (l *testLogger) Warn(string, map[string]interface{})  { l.onLog("warn") }
func (l *testLogger) Debug(string, map[string]interface{}) { l.onLog("debug") }

func (l *testLogger) InfoWithContext(context.Context, string, map[string]interface{})  { l.onLog("info") }
func (l *testLogger) ErrorWithContext(context.Context, string, map[string]interface{}) { l.onLog("error") }
func (l *testLogger) WarnWithContext(context.Context, string, map[string]interface{})  { l.onLog("warn") }
func (l *testLogger) DebugWithContext(context.Context, string, map[string]interface{}) { l.onLog("debug") }

func TestLoggingMiddleware_AlwaysLogsInDevMode(t *testing.T) {
	logged := false
	logger := &testLogger{onLog: func(level string) { logged = true }}

	handler := LoggingMiddleware(logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, logged, "dev mode should log every request regardless of status")
}

func TestLoggingMiddleware_SkipsFastSuccessfulRequestsInProdMode(t *testing.T) {
	logged := false
	logger := &testLogger{onLog: func(level string) { logged = true }}

	handler := LoggingMiddleware(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.False(t, logged, "production mode should stay quiet on fast 2xx responses")
}

func TestLoggingMiddleware_LogsClientErrorsInProdMode(t *testing.T) {
	var level string
	logger := &testLogger{onLog: func(l string) { level = l }}

	handler := LoggingMiddleware(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, "warn", level)
}

func TestLoggingMiddleware_LogsServerErrorsAtErrorLevel(t *testing.T) {
	var level string
	logger := &testLogger{onLog: func(l string) { level = l }}

	handler := LoggingMiddleware(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, "error", level)
}

func TestLoggingMiddleware_GeneratesAndEchoesRequestID(t *testing.T) {
	logger := &testLogger{onLog: func(string) {}}

	handler := LoggingMiddleware(logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLoggingMiddleware_PreservesIncomingRequestID(t *testing.T) {
	logger := &testLogger{onLog: func(string) {}}

	handler := LoggingMiddleware(logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied-id", rec.Header().Get("X-Request-Id"))
}

func TestResponseWriter_WriteWithoutExplicitHeaderDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	_, err := wrapped.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, wrapped.statusCode)
}

func TestResponseWriter_WriteHeaderIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec}

	wrapped.WriteHeader(http.StatusCreated)
	wrapped.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusCreated, wrapped.statusCode, "the first WriteHeader call wins")
}
