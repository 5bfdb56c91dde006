// Package feedback implements the out-of-band feedback analyzer: once a
// completed job receives consenting feedback, an enqueued task
// reconstructs the job's OCR/anonymized/translated texts from its
// StepExecution history and asks a configured LLM for a structured
// quality report.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/clients"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/resilience"
	"github.com/medlingua/pipeline/storage"
)

// Report is the parsed quality analysis the LLM is asked to produce.
type Report struct {
	PIILeaks            []string `json:"pii_leaks"`
	TranslationIssues   []string `json:"translation_issues"`
	Recommendations     []string `json:"recommendations"`
	OverallScore        float64  `json:"overall_score"`
}

// step name substrings used to reconstruct the three texts this analysis
// needs from a job's execution history. These match the conventional
// naming a pipeline operator would give OCR/PII/translation steps; any
// step whose name doesn't match one of these roles is ignored by the
// analyzer (it only cares about these three artifacts).
const (
	ocrStepHint    = "ocr"
	piiStepHint    = "pii"
	translateHint  = "translat"
)

// Analyzer runs the quality-scoring task for one (job, feedback) pair.
type Analyzer struct {
	jobs      *storage.JobRepository
	feedbacks *storage.FeedbackRepository
	llm       *clients.LLMClient
	breaker   *resilience.CircuitBreaker
	logger    core.Logger
}

func New(jobs *storage.JobRepository, feedbacks *storage.FeedbackRepository, llm *clients.LLMClient, logger core.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	cb, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name: "feedback.analyzer", FailureThreshold: 5, SuccessThreshold: 2,
		RecoveryTimeout: resilience.DefaultConfig().RecoveryTimeout,
		ErrorClassifier: resilience.DefaultErrorClassifier, Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Analyzer{jobs: jobs, feedbacks: feedbacks, llm: llm, breaker: cb, logger: logger}, nil
}

// Analyze runs the full task for one feedback id: reconstruct texts, skip
// if the job's content was already cleared, otherwise call the LLM and
// persist the parsed report.
func (a *Analyzer) Analyze(ctx context.Context, feedbackID int64, processingID string) error {
	job, err := a.jobs.GetByProcessingID(ctx, processingID)
	if err != nil {
		return fmt.Errorf("feedback: loading job: %w", err)
	}

	executions, err := a.jobs.StepExecutionsForJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("feedback: loading step executions: %w", err)
	}

	ocrText, piiText, translatedText := reconstructTexts(executions)
	if job.ContentClearedAt != nil || (strings.TrimSpace(ocrText) == "" && strings.TrimSpace(translatedText) == "") {
		// Content already cleared (or never populated): mark the analysis
		// skipped rather than failed, since there is nothing to analyze.
		return a.feedbacks.RecordAnalysis(ctx, feedbackID, domain.AnalysisSkipped, nil)
	}

	report, err := a.runAnalysis(ctx, ocrText, piiText, translatedText)
	if err != nil {
		a.logger.ErrorWithContext(ctx, "feedback analysis failed", map[string]interface{}{
			"feedback_id": feedbackID, "error": err.Error(),
		})
		return a.feedbacks.RecordAnalysis(ctx, feedbackID, domain.AnalysisFailed, domain.JSONMap{"error": err.Error()})
	}

	reportMap := domain.JSONMap{
		"pii_leaks":          report.PIILeaks,
		"translation_issues": report.TranslationIssues,
		"recommendations":    report.Recommendations,
		"overall_score":      report.OverallScore,
	}
	return a.feedbacks.RecordAnalysis(ctx, feedbackID, domain.AnalysisCompleted, reportMap)
}

func reconstructTexts(executions []domain.StepExecution) (ocrText, piiText, translatedText string) {
	for _, e := range executions {
		if e.Status != domain.StepCompleted {
			continue
		}
		name := strings.ToLower(e.StepName)
		switch {
		case strings.Contains(name, ocrStepHint) && ocrText == "":
			ocrText = e.OutputText
		case strings.Contains(name, piiStepHint) && piiText == "":
			piiText = e.OutputText
		case strings.Contains(name, translateHint):
			translatedText = e.OutputText // last translation-named step wins
		}
	}
	return
}

func (a *Analyzer) runAnalysis(ctx context.Context, ocrText, piiText, translatedText string) (*Report, error) {
	prompt := fmt.Sprintf(
		"You are auditing a medical document translation pipeline. Given the original "+
			"extracted text, the PII-anonymized text, and the final translated text, "+
			"respond with a JSON object {\"pii_leaks\": [...], \"translation_issues\": [...], "+
			"\"recommendations\": [...], \"overall_score\": 0..1}.\n\n"+
			"ORIGINAL:\n%s\n\nPII-ANONYMIZED:\n%s\n\nTRANSLATED:\n%s",
		ocrText, piiText, translatedText,
	)

	var resp *clients.LLMResponse
	op := func() error {
		r, err := a.llm.Generate(ctx, clients.LLMRequest{
			Provider: "openai", Model: "gpt-4o-mini", Prompt: prompt, Temperature: 0, MaxTokens: 1500,
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	if err := resilience.RetryWithCircuitBreaker(ctx, resilience.APIRetryConfig(), a.breaker, op); err != nil {
		return nil, err
	}

	var report Report
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &report); err != nil {
		return nil, fmt.Errorf("feedback: parsing analysis report: %w", err)
	}
	return &report, nil
}
