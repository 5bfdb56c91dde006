package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseForStep(t *testing.T) {
	assert.Equal(t, APIExtractingText, PhaseForStep(""))
	assert.Equal(t, APIExtractingText, PhaseForStep("ocr_extract"))
	assert.Equal(t, APIExtractingText, PhaseForStep("classify_document"))
	assert.Equal(t, APITranslating, PhaseForStep("translate_document"))
	assert.Equal(t, APILanguageTranslating, PhaseForStep("language_translate_document"))
	assert.Equal(t, APILanguageTranslating, PhaseForStep("LANGUAGE_TRANSLATE"))
}
