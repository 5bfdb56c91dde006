package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/medlingua/pipeline/core"
)

// GuidelineResult is the answer pulled from the translation-guideline
// knowledge base, plus whichever source documents the RAG service cites.
type GuidelineResult struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources,omitempty"`
	Bilingual string   `json:"bilingual,omitempty"`
}

// GuidelineClient wraps a Dify-style RAG chat endpoint:
// POST /v1/chat-messages {query, response_mode: "blocking", user,
// inputs:{}} with Authorization: Bearer -> {answer, metadata:{retriever_resources}}.
//
// The knowledge base itself answers in German; when a target language is
// given and an LLM client is configured, this client asks the configured LLM to produce a bilingual (German/target)
// rendering of the answer rather than translating client-side.
type GuidelineClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
	llm        *LLMClient
}

func NewGuidelineClient(baseURL, apiKey string, llm *LLMClient, logger core.Logger) *GuidelineClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &GuidelineClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		llm:        llm,
	}
}

// Query asks the guideline knowledge base a German-language question and,
// when targetLanguage is non-empty and an LLM client is configured,
// produces a bilingual German/targetLanguage answer.
func (c *GuidelineClient) Query(ctx context.Context, userID, query, targetLanguage string) (*GuidelineResult, error) {
	body := map[string]interface{}{
		"query":          query,
		"response_mode":  "blocking",
		"user":           userID,
		"inputs":         map[string]interface{}{},
		"conversation_id": "",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("clients: marshaling guideline request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat-messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("clients: building guideline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "guideline service request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WrapDomainError(core.KindConnection, "reading guideline service response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewDomainError(core.KindServiceUnavailable, "guideline service error", map[string]interface{}{"status": resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return nil, core.NewDomainError(core.KindValidation, "guideline service rejected request", map[string]interface{}{"status": resp.StatusCode})
	}

	var wire struct {
		Answer   string `json:"answer"`
		Metadata struct {
			RetrieverResources []struct {
				DocumentName string `json:"document_name"`
			} `json:"retriever_resources"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("clients: parsing guideline service response: %w", err)
	}

	result := &GuidelineResult{Answer: wire.Answer}
	for _, r := range wire.Metadata.RetrieverResources {
		if r.DocumentName != "" {
			result.Sources = append(result.Sources, r.DocumentName)
		}
	}

	if targetLanguage != "" && c.llm != nil {
		bilingual, err := c.bilingualize(ctx, wire.Answer, targetLanguage)
		if err != nil {
			c.logger.WarnWithContext(ctx, "bilingual guideline rendering failed, returning German-only answer", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			result.Bilingual = bilingual
		}
	}
	return result, nil
}

func (c *GuidelineClient) bilingualize(ctx context.Context, germanAnswer, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf(
		"Format the following German guideline answer as a bilingual German/%s passage, "+
			"German paragraph followed by its %s translation:\n\n%s",
		targetLanguage, targetLanguage, germanAnswer,
	)
	resp, err := c.llm.Generate(ctx, LLMRequest{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
