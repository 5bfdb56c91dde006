package clients

import (
	"os"
	"strings"
)

// ProviderConfigsFromEnv builds the provider map NewLLMClient expects from
// a list of AvailableModel.Provider values already configured in storage:
// for a provider named "openai" it reads OPENAI_API_KEY, OPENAI_BASE_URL,
// and OPENAI_KIND (defaulting Kind to the provider name itself, since most
// providers speak the OpenAI-compatible chat-completion shape; a provider
// literally named "anthropic" defaults to the Anthropic wire shape).
// Providers with no API key set are skipped — dispatch to them fails fast
// with a clear error instead of silently misrouting.
func ProviderConfigsFromEnv(providerNames []string) map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, len(providerNames))
	for _, name := range providerNames {
		upper := strings.ToUpper(name)
		apiKey := os.Getenv(upper + "_API_KEY")
		if apiKey == "" {
			continue
		}
		kind := os.Getenv(upper + "_KIND")
		if kind == "" {
			kind = strings.ToLower(name)
		}
		out[name] = ProviderConfig{
			Kind:    kind,
			BaseURL: os.Getenv(upper + "_BASE_URL"),
			APIKey:  apiKey,
		}
	}
	return out
}
