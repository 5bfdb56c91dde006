package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/medlingua/pipeline/core"
)

// PIIResult is the cleaned text plus whatever metadata the microservice
// chooses to surface (entities removed, confidence, etc).
type PIIResult struct {
	CleanedText string                 `json:"cleaned_text"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PIIClient wraps the PII microservice contract:
// POST /remove-pii {text, language, include_metadata} -> {cleaned_text, metadata}.
type PIIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
	fallback   bool // regex fallback permitted when the service is unreachable
}

// NewPIIClient builds a client. When fallbackEnabled is true and the
// service call fails, RemovePII falls back to an in-process regex filter
// rather than propagating the error (USE_EXTERNAL_PII=false path).
func NewPIIClient(baseURL, apiKey string, fallbackEnabled bool, logger core.Logger) *PIIClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PIIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
		fallback:   fallbackEnabled,
	}
}

// RemovePII calls the microservice; on failure, if a fallback is
// permitted, it degrades to a conservative regex-based scrub instead of
// failing the pipeline step outright.
func (c *PIIClient) RemovePII(ctx context.Context, text, language string) (*PIIResult, error) {
	result, err := c.callService(ctx, text, language)
	if err == nil {
		return result, nil
	}
	if !c.fallback {
		return nil, err
	}
	c.logger.WarnWithContext(ctx, "PII service unavailable, falling back to regex filter", map[string]interface{}{
		"error": err.Error(),
	})
	return &PIIResult{
		CleanedText: regexScrub(text),
		Metadata:    map[string]interface{}{"source": "regex_fallback"},
	}, nil
}

func (c *PIIClient) callService(ctx context.Context, text, language string) (*PIIResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"text": text, "language": language, "include_metadata": true,
	})
	if err != nil {
		return nil, fmt.Errorf("clients: marshaling PII request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/remove-pii", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clients: building PII request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "PII service request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "reading PII service response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewDomainError(core.KindServiceUnavailable, "PII service error", map[string]interface{}{"status": resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return nil, core.NewDomainError(core.KindValidation, "PII service rejected request", map[string]interface{}{"status": resp.StatusCode})
	}

	var result PIIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("clients: parsing PII service response: %w", err)
	}
	return &result, nil
}

// HealthCheck pings the microservice's health endpoint.
func (c *PIIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.WrapDomainError(core.KindConnection, "PII service health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.NewDomainError(core.KindServiceUnavailable, "PII service unhealthy", nil)
	}
	return nil
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\b(?:\+?\d{1,3}[ \-]?)?\(?\d{2,5}\)?[ \-]?\d{3,4}[ \-]?\d{3,4}\b`)
)

// regexScrub is a conservative degraded-mode filter used only when the
// real PII microservice is unreachable and the fallback feature flag is
// enabled — it catches the two highest-recall patterns (email, phone) and
// nothing more nuanced.
func regexScrub(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = phonePattern.ReplaceAllString(text, "[PHONE]")
	return text
}
