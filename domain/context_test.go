package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute_ReplacesInputTextAndContextKeys(t *testing.T) {
	ctx := Context{"document_type": "ARZTBRIEF", "target_language": "en"}
	out := Substitute("Translate this {document_type} into {target_language}: {input_text}", "hello", ctx)
	assert.Equal(t, "Translate this ARZTBRIEF into en: hello", out)
}

func TestSubstitute_LeavesUnknownPlaceholderVerbatim(t *testing.T) {
	out := Substitute("Value: {unknown_key}", "input", Context{})
	assert.Equal(t, "Value: {unknown_key}", out)
}

func TestSubstitute_UnterminatedBraceIsLeftAsIs(t *testing.T) {
	out := Substitute("broken {input_text", "irrelevant", Context{})
	assert.Equal(t, "broken {input_text", out)
}

func TestMissing_ReturnsFirstEmptyRequiredKey(t *testing.T) {
	ctx := Context{"a": "present", "b": "  "}
	key, ok := Missing(ctx, []string{"a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "b", key)
}

func TestMissing_OKWhenAllPresent(t *testing.T) {
	ctx := Context{"a": "1", "b": "2"}
	_, ok := Missing(ctx, []string{"a", "b"})
	assert.False(t, ok)
}

func TestContext_CloneIsIndependent(t *testing.T) {
	original := Context{"a": "1"}
	clone := original.Clone()
	clone["a"] = "2"
	assert.Equal(t, "1", original["a"])
	assert.Equal(t, "2", clone["a"])
}
