package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/medlingua/pipeline/core"
)

// OCRServiceResult is the wire response from the OCR microservice.
type OCRServiceResult struct {
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	ProcessingTime  float64 `json:"processing_time"`
	Engine          string  `json:"engine"`
	LinesDetected   int     `json:"lines_detected"`
}

// OCRServiceClient wraps the external OCR microservice:
// POST /extract multipart file, header X-API-Key.
type OCRServiceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
}

func NewOCRServiceClient(baseURL, apiKey string, logger core.Logger) *OCRServiceClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &OCRServiceClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     logger,
	}
}

// Extract uploads a file for OCR and returns the recognized text.
func (c *OCRServiceClient) Extract(ctx context.Context, filename string, content []byte) (*OCRServiceResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("clients: building multipart form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("clients: writing file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("clients: closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &buf)
	if err != nil {
		return nil, fmt.Errorf("clients: building OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "OCR service request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "reading OCR service response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewDomainError(core.KindServiceUnavailable, "OCR service error", map[string]interface{}{"status": resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return nil, core.NewDomainError(core.KindValidation, "OCR service rejected request", map[string]interface{}{"status": resp.StatusCode})
	}

	var result OCRServiceResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("clients: parsing OCR service response: %w", err)
	}
	return &result, nil
}

// HealthCheck pings the microservice's health endpoint.
func (c *OCRServiceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.WrapDomainError(core.KindConnection, "OCR service health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.NewDomainError(core.KindServiceUnavailable, "OCR service unhealthy", nil)
	}
	return nil
}
