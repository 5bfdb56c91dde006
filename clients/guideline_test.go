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

func TestGuidelineClient_QueryReturnsGermanOnlyWithoutTargetLanguage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer dify-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"answer": "Laborbefunde sollten binnen 24 Stunden übermittelt werden.",
			"metadata": map[string]interface{}{
				"retriever_resources": []map[string]string{{"document_name": "lab_guideline.pdf"}},
			},
		})
	}))
	defer server.Close()

	client := NewGuidelineClient(server.URL, "dify-key", nil, nil)
	result, err := client.Query(t.Context(), "user-1", "Wie schnell müssen Laborbefunde übermittelt werden?", "")
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "Laborbefunde")
	assert.Equal(t, []string{"lab_guideline.pdf"}, result.Sources)
	assert.Empty(t, result.Bilingual)
}

func TestGuidelineClient_QueryBilingualizesWhenTargetLanguageAndLLMSet(t *testing.T) {
	ragServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"answer": "Der Befund ist unauffällig."})
	}))
	defer ragServer.Close()

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "Der Befund ist unauffällig.\n\nThe finding is unremarkable."}},
			},
		})
	}))
	defer llmServer.Close()

	llm := NewLLMClient(map[string]ProviderConfig{
		"openai": {Kind: "openai", BaseURL: llmServer.URL},
	}, time.Second, nil)

	client := NewGuidelineClient(ragServer.URL, "key", llm, nil)
	result, err := client.Query(t.Context(), "user-1", "query", "english")
	require.NoError(t, err)
	assert.Contains(t, result.Bilingual, "unremarkable")
}

func TestGuidelineClient_QueryToleratesBilingualizeFailure(t *testing.T) {
	ragServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"answer": "Der Befund ist unauffällig."})
	}))
	defer ragServer.Close()

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer llmServer.Close()

	llm := NewLLMClient(map[string]ProviderConfig{
		"openai": {Kind: "openai", BaseURL: llmServer.URL},
	}, time.Second, nil)

	client := NewGuidelineClient(ragServer.URL, "key", llm, nil)
	result, err := client.Query(t.Context(), "user-1", "query", "english")
	require.NoError(t, err, "a failed bilingual rendering degrades to the German-only answer, not an error")
	assert.Empty(t, result.Bilingual)
	assert.Contains(t, result.Answer, "unauffällig")
}
