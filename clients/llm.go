// Package clients implements the raw net/http wrappers around every
// external service the pipeline depends on: the LLM endpoint, the OCR
// microservice, the PII microservice, and the guideline RAG service.
//
// Every client is a hand-built JSON request/response wrapper with no
// vendor SDK. LLM calls from the executor, the feedback analyzer and the
// OCR router's vision path, and the OCR microservice calls, are wrapped
// at the call site by a resilience.CircuitBreaker + resilience.Retry
// pair. The worker calls the PII and guideline clients without either,
// and GuidelineClient's own bilingual LLM call is not wrapped.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medlingua/pipeline/core"
)

// LLMRequest is the provider-agnostic chat-completion request this
// platform's executor builds for every AI-dispatched step.
type LLMRequest struct {
	Provider     string
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int

	// ImageBase64/ImageMediaType attach a single image to the prompt for
	// vision-capable models (the VISION_LLM OCR engine). Both empty means
	// a plain text completion.
	ImageBase64    string
	ImageMediaType string
}

// LLMResponse is the provider-agnostic result, already stripped of
// provider-specific wire shape.
type LLMResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// LLMClient dispatches a chat-completion style call to one of several
// configured providers by name, picking its wire shape per call instead
// of per process.
type LLMClient struct {
	httpClient *http.Client
	logger     core.Logger
	providers  map[string]ProviderConfig
}

// ProviderConfig names one configured backend (OpenAI-compatible or
// Anthropic-compatible wire shape) and its credentials.
type ProviderConfig struct {
	Kind    string // "openai" | "anthropic"
	BaseURL string
	APIKey  string
}

// NewLLMClient builds a client over the given provider configs, keyed by
// AvailableModel.Provider.
func NewLLMClient(providers map[string]ProviderConfig, timeout time.Duration, logger core.Logger) *LLMClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		providers:  providers,
	}
}

// Generate issues one chat-completion call. The caller (the executor's
// model dispatch step) is expected to wrap this in a circuit breaker and
// retry policy named after the provider.
func (c *LLMClient) Generate(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	cfg, ok := c.providers[req.Provider]
	if !ok {
		return nil, core.NewDomainError(core.KindValidation, fmt.Sprintf("unconfigured LLM provider %q", req.Provider), nil)
	}

	switch cfg.Kind {
	case "anthropic":
		return c.generateAnthropic(ctx, cfg, req)
	default:
		return c.generateOpenAICompatible(ctx, cfg, req)
	}
}

func (c *LLMClient) generateOpenAICompatible(ctx context.Context, cfg ProviderConfig, req LLMRequest) (*LLMResponse, error) {
	messages := []map[string]interface{}{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": req.SystemPrompt})
	}
	if req.ImageBase64 != "" {
		mediaType := req.ImageMediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		messages = append(messages, map[string]interface{}{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": req.Prompt},
				{"type": "image_url", "image_url": map[string]string{
					"url": fmt.Sprintf("data:%s;base64,%s", mediaType, req.ImageBase64),
				}},
			},
		})
	} else {
		messages = append(messages, map[string]interface{}{"role": "user", "content": req.Prompt})
	}

	body := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}

	var wire struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}

	if err := c.postJSON(ctx, cfg.BaseURL+"/chat/completions", cfg.APIKey, body, &wire); err != nil {
		return nil, err
	}
	if len(wire.Choices) == 0 {
		return nil, core.NewDomainError(core.KindServiceUnavailable, "empty completion from LLM provider", nil)
	}
	return &LLMResponse{
		Text:         wire.Choices[0].Message.Content,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
		Model:        wire.Model,
	}, nil
}

func (c *LLMClient) generateAnthropic(ctx context.Context, cfg ProviderConfig, req LLMRequest) (*LLMResponse, error) {
	var userContent interface{} = req.Prompt
	if req.ImageBase64 != "" {
		mediaType := req.ImageMediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		userContent = []map[string]interface{}{
			{"type": "text", "text": req.Prompt},
			{"type": "image", "source": map[string]string{
				"type": "base64", "media_type": mediaType, "data": req.ImageBase64,
			}},
		}
	}
	body := map[string]interface{}{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages":   []map[string]interface{}{{"role": "user", "content": userContent}},
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	var wire struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}

	httpReq, err := c.newRequest(ctx, cfg.BaseURL+"/v1/messages", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	if err := c.do(httpReq, &wire); err != nil {
		return nil, err
	}
	if len(wire.Content) == 0 {
		return nil, core.NewDomainError(core.KindServiceUnavailable, "empty completion from LLM provider", nil)
	}
	return &LLMResponse{
		Text:         wire.Content[0].Text,
		InputTokens:  wire.Usage.InputTokens,
		OutputTokens: wire.Usage.OutputTokens,
		Model:        wire.Model,
	}, nil
}

func (c *LLMClient) newRequest(ctx context.Context, url string, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("clients: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("clients: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *LLMClient) postJSON(ctx context.Context, url, apiKey string, body interface{}, out interface{}) error {
	req, err := c.newRequest(ctx, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return c.do(req, out)
}

func (c *LLMClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.WrapDomainError(core.KindConnection, "LLM provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.WrapDomainError(core.KindConnection, "reading LLM provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.NewDomainError(core.KindRateLimit, "LLM provider rate limited this request", map[string]interface{}{"body": string(data)})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.NewDomainError(core.KindUnauthorized, "LLM provider rejected credentials", nil)
	case resp.StatusCode >= 500:
		return core.NewDomainError(core.KindServiceUnavailable, fmt.Sprintf("LLM provider error (status %d)", resp.StatusCode), map[string]interface{}{"body": string(data)})
	case resp.StatusCode >= 400:
		return core.NewDomainError(core.KindValidation, fmt.Sprintf("LLM provider rejected request (status %d)", resp.StatusCode), map[string]interface{}{"body": string(data)})
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("clients: parsing LLM provider response: %w", err)
	}
	return nil
}
