package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_FailsValidationWithoutDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfig_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ENCRYPTION_ENABLED", "false")
	t.Setenv("PORT", "9090")
	t.Setenv("USE_DIFY_RAG", "true")
	t.Setenv("DIFY_RAG_URL", "https://rag.internal")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Services.UseDifyRAG)
	assert.Equal(t, "https://rag.internal", cfg.Services.DifyRAGURL)
}

func TestNewConfig_FunctionalOptionsOverrideEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ENCRYPTION_ENABLED", "false")
	t.Setenv("PORT", "9090")

	cfg, err := NewConfig(WithPort(7070))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestConfig_ValidateRejectsEncryptionEnabledWithoutKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Security.EncryptionEnabled = true
	cfg.Security.EncryptionKey = ""

	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Port = 70000

	assert.Error(t, cfg.Validate())
}
