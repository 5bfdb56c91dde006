package clients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMClient_GenerateOpenAICompatible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-test",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "translated output"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer server.Close()

	client := NewLLMClient(map[string]ProviderConfig{
		"openai": {Kind: "openai", BaseURL: server.URL, APIKey: "test-key"},
	}, time.Second, nil)

	resp, err := client.Generate(t.Context(), LLMRequest{Provider: "openai", Model: "gpt-test", Prompt: "translate this"})
	require.NoError(t, err)
	assert.Equal(t, "translated output", resp.Text)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
}

func TestLLMClient_GenerateAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   "claude-test",
			"content": []map[string]string{{"text": "bilingual guidance"}},
			"usage":   map[string]int{"input_tokens": 20, "output_tokens": 8},
		})
	}))
	defer server.Close()

	client := NewLLMClient(map[string]ProviderConfig{
		"anthropic": {Kind: "anthropic", BaseURL: server.URL, APIKey: "test-key"},
	}, time.Second, nil)

	resp, err := client.Generate(t.Context(), LLMRequest{Provider: "anthropic", Model: "claude-test", Prompt: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "bilingual guidance", resp.Text)
	assert.Equal(t, 20, resp.InputTokens)
}

func TestLLMClient_GenerateRejectsUnconfiguredProvider(t *testing.T) {
	client := NewLLMClient(map[string]ProviderConfig{}, time.Second, nil)

	_, err := client.Generate(t.Context(), LLMRequest{Provider: "unknown"})
	assert.Error(t, err)
}

func TestLLMClient_GenerateSurfacesEmptyCompletionAsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewLLMClient(map[string]ProviderConfig{
		"openai": {Kind: "openai", BaseURL: server.URL},
	}, time.Second, nil)

	_, err := client.Generate(t.Context(), LLMRequest{Provider: "openai"})
	assert.Error(t, err)
}
