package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a free-form JSON object persisted as a single jsonb/text
// column. It implements driver.Valuer/sql.Scanner so sqlx can read and
// write it transparently alongside typed columns.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain.JSONMap: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// StringSlice is a JSON-encoded []string column (used for indicator lists
// and stop-condition value lists).
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]string(s))
}

func (s *StringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain.StringSlice: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// DynamicStep is one user-configurable pipeline node.
type DynamicStep struct {
	ID                       int64       `db:"id" json:"id"`
	Name                     string      `db:"name" json:"name"`
	Order                    int         `db:"step_order" json:"order"`
	Enabled                  bool        `db:"enabled" json:"enabled"`
	PromptTemplate           string      `db:"prompt_template" json:"prompt_template"`
	ModelID                  int64       `db:"model_id" json:"model_id"`
	Temperature              float64     `db:"temperature" json:"temperature"`
	MaxTokens                int         `db:"max_tokens" json:"max_tokens"`
	RetryOnFailure           bool        `db:"retry_on_failure" json:"retry_on_failure"`
	MaxRetries               int         `db:"max_retries" json:"max_retries"`
	InputFromPreviousStep    bool        `db:"input_from_previous_step" json:"input_from_previous_step"`
	OutputFormat             string      `db:"output_format" json:"output_format,omitempty"`
	DocumentClassID          *int64      `db:"document_class_id" json:"document_class_id,omitempty"`
	IsBranchingStep          bool        `db:"is_branching_step" json:"is_branching_step"`
	BranchingField           string      `db:"branching_field" json:"branching_field,omitempty"`
	PostBranching            bool        `db:"post_branching" json:"post_branching"`
	RequiredContextVariables StringSlice `db:"required_context_variables" json:"required_context_variables,omitempty"`
	StopOnValues             StringSlice `db:"stop_on_values" json:"stop_on_values,omitempty"`
	StopReason               string      `db:"stop_reason" json:"stop_reason,omitempty"`
	StopMessage              string      `db:"stop_message" json:"stop_message,omitempty"`
}

// Universal reports whether the step runs regardless of the selected
// document class.
func (s DynamicStep) Universal() bool { return s.DocumentClassID == nil }

// Band classifies a step into one of the three execution bands.
type Band int

const (
	BandUniversalPre Band = iota
	BandClassSpecific
	BandUniversalPost
)

func (s DynamicStep) Band() Band {
	switch {
	case s.PostBranching:
		return BandUniversalPost
	case !s.Universal():
		return BandClassSpecific
	default:
		return BandUniversalPre
	}
}

// DocumentClass is a dynamic classification target selected by the
// pipeline's single branching step.
type DocumentClass struct {
	ID               int64       `db:"id" json:"id"`
	ClassKey         string      `db:"class_key" json:"class_key"`
	DisplayName      string      `db:"display_name" json:"display_name"`
	Description      string      `db:"description" json:"description,omitempty"`
	StrongIndicators StringSlice `db:"strong_indicators" json:"strong_indicators,omitempty"`
	WeakIndicators   StringSlice `db:"weak_indicators" json:"weak_indicators,omitempty"`
	IsSystemClass    bool        `db:"is_system_class" json:"is_system_class"`
}

// AvailableModel names a provider+model the executor may dispatch to.
type AvailableModel struct {
	ID              int64   `db:"id" json:"id"`
	Provider        string  `db:"provider" json:"provider"`
	Name            string  `db:"name" json:"name"`
	InputPricePer1K float64 `db:"input_price_per_1k" json:"input_price_per_1k"`
	OutputPricePer1K float64 `db:"output_price_per_1k" json:"output_price_per_1k"`
	Enabled         bool    `db:"enabled" json:"enabled"`
}

// OCRConfiguration is the process-wide singleton OCR strategy row.
type OCRConfiguration struct {
	ID                      int64     `db:"id" json:"id"`
	Engine                  OCREngine `db:"engine" json:"engine"`
	PIIRemovalEnabled       bool      `db:"pii_removal_enabled" json:"pii_removal_enabled"`
	VisionLLMFallbackEnabled bool     `db:"vision_llm_fallback_enabled" json:"vision_llm_fallback_enabled"`
	QualityFloor            float64  `db:"quality_floor" json:"quality_floor"`
	EngineConfig            JSONMap  `db:"engine_config" json:"engine_config,omitempty"`
}

// SystemSetting is one key/value entry in the runtime settings store.
type SystemSetting struct {
	Key         string `db:"key" json:"key"`
	Value       string `db:"value" json:"value"`
	IsEncrypted bool   `db:"is_encrypted" json:"is_encrypted"`
}
