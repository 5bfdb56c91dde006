package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medlingua/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_MapsDomainErrorKindToStatusCode(t *testing.T) {
	cases := map[core.ErrorKind]int{
		core.KindValidation:         http.StatusBadRequest,
		core.KindNotFound:           http.StatusNotFound,
		core.KindUnauthorized:       http.StatusUnauthorized,
		core.KindForbidden:          http.StatusForbidden,
		core.KindRateLimit:          http.StatusTooManyRequests,
		core.KindTimeout:            http.StatusGatewayTimeout,
		core.KindServiceUnavailable: http.StatusServiceUnavailable,
		core.KindCircuitOpen:        http.StatusServiceUnavailable,
		core.KindConnection:         http.StatusBadGateway,
		core.KindProcessing:         http.StatusInternalServerError,
	}
	for kind, wantStatus := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, core.NewDomainError(kind, "boom", nil))
		assert.Equal(t, wantStatus, rec.Code, "kind %s", kind)

		var body envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(kind), body.Error.Code)
		assert.Equal(t, "boom", body.Error.Message)
	}
}

func TestWriteError_TreatsNonDomainErrorAsOpaqueInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, assertErr("unexpected panic detail"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(core.KindInternal), body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected panic detail", "no unclassified error message should leak")
}

type plainError string

func (e plainError) Error() string { return string(e) }

func assertErr(msg string) error { return plainError(msg) }
