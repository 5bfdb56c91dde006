package clients

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartReader(t *testing.T, body io.Reader, boundary string) *multipart.Reader {
	t.Helper()
	return multipart.NewReader(body, boundary)
}

func TestOCRServiceClient_ExtractUploadsMultipartFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		reader := multipartReader(t, r.Body, params["boundary"])
		part, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", part.FileName())
		content, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, "scanned bytes", string(content))

		_ = json.NewEncoder(w).Encode(OCRServiceResult{Text: "extracted text", Confidence: 0.92, Engine: "LOCAL_OCR"})
	}))
	defer server.Close()

	client := NewOCRServiceClient(server.URL, "test-key", nil)
	result, err := client.Extract(t.Context(), "report.pdf", []byte("scanned bytes"))
	require.NoError(t, err)
	assert.Equal(t, "extracted text", result.Text)
	assert.Equal(t, 0.92, result.Confidence)
}

func TestOCRServiceClient_ExtractSurfacesServerErrorAsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewOCRServiceClient(server.URL, "", nil)
	_, err := client.Extract(t.Context(), "f.pdf", []byte("x"))
	assert.Error(t, err)
}
