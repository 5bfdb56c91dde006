package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderConfigsFromEnv_SkipsProvidersWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	out := ProviderConfigsFromEnv([]string{"openai"})
	assert.Empty(t, out)
}

func TestProviderConfigsFromEnv_DefaultsKindToLowercaseProviderName(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com/v1")

	out := ProviderConfigsFromEnv([]string{"openai"})
	require := out["openai"]
	assert.Equal(t, "openai", require.Kind)
	assert.Equal(t, "https://api.openai.com/v1", require.BaseURL)
	assert.Equal(t, "sk-test", require.APIKey)
}

func TestProviderConfigsFromEnv_ExplicitKindOverridesDefault(t *testing.T) {
	t.Setenv("CLAUDE_API_KEY", "sk-ant-test")
	t.Setenv("CLAUDE_KIND", "anthropic")

	out := ProviderConfigsFromEnv([]string{"claude"})
	assert.Equal(t, "anthropic", out["claude"].Kind)
}
