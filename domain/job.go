package domain

import "time"

// MimeClass is the coarse file kind the upload path classifies a file as.
type MimeClass string

const (
	MimePDF   MimeClass = "pdf"
	MimeImage MimeClass = "image"
)

// Job is the unit of work tracked from upload through a completed (or
// terminal) pipeline run.
type Job struct {
	ID            int64     `db:"id" json:"-"`
	ProcessingID  string    `db:"processing_id" json:"processing_id"`
	Filename      string    `db:"filename" json:"filename"`
	MimeClass     MimeClass `db:"mime_class" json:"file_type"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	FileContent   []byte    `db:"file_content" json:"-"` // encrypted at rest

	PipelineSnapshot []byte `db:"pipeline_snapshot" json:"-"` // JSON snapshot of enabled DynamicSteps
	OCRSnapshot      []byte `db:"ocr_snapshot" json:"-"`      // JSON snapshot of OCRConfiguration

	TargetLanguage string `db:"target_language" json:"target_language,omitempty"`

	Status     JobStatus `db:"status" json:"status"`
	Progress   int       `db:"progress" json:"progress_percent"`
	ActiveStep string    `db:"active_step" json:"-"` // name of the step last reported while RUNNING

	UploadedAt  time.Time  `db:"uploaded_at" json:"uploaded_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failed_at,omitempty"`

	OriginalText            string  `db:"original_text" json:"-"`             // encrypted
	TranslatedText          string  `db:"translated_text" json:"-"`           // encrypted
	LanguageTranslatedText  string  `db:"language_translated_text" json:"-"`  // encrypted
	DocumentTypeDetected    string  `db:"document_type_detected" json:"document_type_detected,omitempty"`
	ConfidenceScore         float64 `db:"confidence_score" json:"confidence_score,omitempty"`
	BranchingPath           string  `db:"branching_path" json:"-"`

	TerminationReason  string `db:"termination_reason" json:"termination_reason,omitempty"`
	TerminationMessage string `db:"termination_message" json:"termination_message,omitempty"`
	TerminationStep    string `db:"termination_step" json:"termination_step,omitempty"`
	MatchedValue       string `db:"matched_value" json:"matched_value,omitempty"`

	ErrorStep    string `db:"error_step" json:"error_step,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	GuidelinesText string `db:"guidelines_text" json:"-"` // encrypted; bilingual RAG answer, best-effort

	WorkerID string `db:"worker_id" json:"-"`

	ContentClearedAt *time.Time `db:"content_cleared_at" json:"-"`
}

// Result is the read-model returned to clients once a job has completed.
type Result struct {
	ProcessingID           string  `json:"processing_id"`
	Status                 JobStatus `json:"status"`
	OriginalText           string  `json:"original_text,omitempty"`
	TranslatedText         string  `json:"translated_text,omitempty"`
	LanguageTranslatedText string  `json:"language_translated_text,omitempty"`
	DocumentTypeDetected   string  `json:"document_type_detected,omitempty"`
	ConfidenceScore        float64 `json:"confidence_score,omitempty"`
	BranchingPath          string  `json:"branching_path,omitempty"`
	TerminationReason      string  `json:"termination_reason,omitempty"`
	TerminationMessage     string  `json:"termination_message,omitempty"`
	MatchedValue           string  `json:"matched_value,omitempty"`
	GuidelinesText         string  `json:"guidelines_text,omitempty"`
}

// StatusView is the read-model returned to clients polling job status.
type StatusView struct {
	ProcessingID string    `json:"processing_id"`
	Status       APIStatus `json:"status"`
	Progress     int       `json:"progress_percent"`
	CurrentStep  string    `json:"current_step,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ActiveJobView is the anonymized row returned by GET /api/process/active:
// enough to render an operational overview without exposing file content or
// any of the job's extracted text.
type ActiveJobView struct {
	ProcessingID string    `db:"processing_id" json:"processing_id"`
	Status       JobStatus `db:"status" json:"status"`
	Progress     int       `db:"progress" json:"progress_percent"`
	MimeClass    MimeClass `db:"mime_class" json:"file_type"`
	UploadedAt   time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// StepExecution is one row per (Job, Step) attempt.
type StepExecution struct {
	ID            int64      `db:"id" json:"id"`
	JobID         int64      `db:"job_id" json:"-"`
	StepID        int64      `db:"step_id" json:"step_id"`
	StepName      string     `db:"step_name" json:"step_name"`
	StepOrder     int        `db:"step_order" json:"step_order"`
	Status        StepStatus `db:"status" json:"status"`
	InputText     string     `db:"input_text" json:"-"`
	OutputText    string     `db:"output_text" json:"-"`
	ModelUsed     string     `db:"model_used" json:"model_used,omitempty"`
	PromptUsed    string     `db:"prompt_used" json:"-"`
	Confidence    float64    `db:"confidence" json:"confidence,omitempty"`
	InputTokens   int        `db:"input_tokens" json:"input_tokens,omitempty"`
	OutputTokens  int        `db:"output_tokens" json:"output_tokens,omitempty"`
	ExecutionMS   int64      `db:"execution_ms" json:"execution_ms,omitempty"`
	RetryCount    int        `db:"retry_count" json:"retry_count,omitempty"`
	Metadata      JSONMap    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Feedback is an append-only user rating of a completed job.
type Feedback struct {
	ID                int64     `db:"id" json:"id"`
	ProcessingID       string    `db:"processing_id" json:"processing_id"`
	OverallRating      int       `db:"overall_rating" json:"overall_rating"`
	DetailedRatings    JSONMap   `db:"detailed_ratings" json:"detailed_ratings,omitempty"`
	Comment            string    `db:"comment" json:"comment,omitempty"`
	DataConsentGiven   bool      `db:"data_consent_given" json:"data_consent_given"`
	AnalysisStatus     AnalysisStatus `db:"analysis_status" json:"analysis_status,omitempty"`
	AnalysisReport     JSONMap   `db:"analysis_report" json:"analysis_report,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// AICostLog records one billable external call for cost accounting.
type AICostLog struct {
	ID           int64     `db:"id" json:"id"`
	ProcessingID string    `db:"processing_id" json:"processing_id"`
	StepName     string    `db:"step_name" json:"step_name"`
	Provider     string    `db:"provider" json:"provider"`
	Model        string    `db:"model" json:"model"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	CostUSD      float64   `db:"cost_usd" json:"cost_usd"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
