package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/clients"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/resilience"
)

// runStep executes a single step's contract: check required context,
// substitute the prompt, call the model, handle stop conditions and
// failures, then record the execution. It returns (outcome, ran, err): outcome is non-nil only when the
// pipeline must stop here (a required-step failure, a stop-condition
// match, or TERMINATED); ran reports whether the step actually executed
// (false for a required_context_variables skip).
func (e *Executor) runStep(ctx context.Context, processingID string, step domain.DynamicStep, run *runState) (*Outcome, bool, error) {
	if key, missing := domain.Missing(run.ctx, step.RequiredContextVariables); missing {
		e.logger.DebugWithContext(ctx, "step skipped: missing required context variable", map[string]interface{}{
			"step": step.Name, "missing_variable": key,
		})
		e.recordSkip(ctx, processingID, step)
		return nil, false, nil
	}

	input := run.previousOutput
	if !step.InputFromPreviousStep {
		input = run.ctx["input_text"]
	}
	prompt := domain.Substitute(step.PromptTemplate, input, run.ctx)

	model, ok := e.models[step.ModelID]
	if !ok {
		return nil, false, fmt.Errorf("executor: step %q references unknown model id %d", step.Name, step.ModelID)
	}

	start := time.Now()
	output, inTok, outTok, err := e.dispatch(ctx, model, step, prompt)
	execMS := time.Since(start).Milliseconds()

	if err != nil {
		return e.handleStepFailure(ctx, processingID, step, run, err)
	}

	job, jerr := e.jobs.GetByProcessingID(ctx, processingID)
	if jerr != nil {
		return nil, false, fmt.Errorf("executor: loading job for step execution: %w", jerr)
	}

	var metadata domain.JSONMap
	if step.IsBranchingStep {
		matchedPath := extractBranchingValue(output, step.BranchingField)
		run.selectedClassKey = resolveBranchClass(output, step.BranchingField, run.classes)
		run.branchingRawOutput = output
		metadata = domain.JSONMap{
			"class_choice":         run.selectedClassKey,
			"raw_branching_output": output,
			"matched_path":         matchedPath,
		}
	}

	if err := e.jobs.InsertStepExecution(ctx, &domain.StepExecution{
		JobID: job.ID, StepID: step.ID, StepName: step.Name, StepOrder: step.Order,
		Status: domain.StepCompleted, InputText: input, OutputText: output,
		ModelUsed: model.Name, PromptUsed: prompt, InputTokens: inTok, OutputTokens: outTok,
		ExecutionMS: execMS, Metadata: metadata,
	}); err != nil {
		return nil, false, fmt.Errorf("executor: persisting step execution: %w", err)
	}
	if err := e.jobs.InsertCostLog(ctx, &domain.AICostLog{
		ProcessingID: processingID, StepName: step.Name, Provider: model.Provider, Model: model.Name,
		InputTokens: inTok, OutputTokens: outTok,
		CostUSD: estimateCost(model, inTok, outTok),
	}); err != nil {
		e.logger.WarnWithContext(ctx, "cost log insert failed", map[string]interface{}{"error": err.Error()})
	}

	run.lastStepOutput = output
	run.previousOutput = output
	run.ctx["document_type"] = run.selectedClassKey

	if reason, message, matchedValue, stopped := matchStopCondition(step, output); stopped {
		if err := e.jobs.MarkTerminated(ctx, processingID, reason, message, step.Name, domain.Result{
			ProcessingID: processingID, TranslatedText: output, MatchedValue: matchedValue,
		}); err != nil {
			return nil, false, fmt.Errorf("executor: marking job terminated: %w", err)
		}
		return &Outcome{
			Terminated: true, TerminationReason: reason, TerminationMessage: message, TerminationStep: step.Name,
			Result: domain.Result{ProcessingID: processingID, Status: domain.JobTerminated, TranslatedText: output,
				TerminationReason: reason, TerminationMessage: message, MatchedValue: matchedValue},
		}, true, nil
	}

	return nil, true, nil
}

// stepRetryConfig builds the retry policy honoring the step's own
// retry_on_failure/max_retries configuration: no retry wrapper when
// disabled, otherwise the API preset with its attempt count overridden.
func stepRetryConfig(step domain.DynamicStep) *resilience.RetryConfig {
	if !step.RetryOnFailure {
		return &resilience.RetryConfig{Name: "step:" + step.Name, MaxAttempts: 1, Retryable: resilience.APIRetryable}
	}
	cfg := resilience.APIRetryConfig()
	cfg.Name = "step:" + step.Name
	if step.MaxRetries > 0 {
		cfg.MaxAttempts = step.MaxRetries + 1
	}
	return cfg
}

func (e *Executor) dispatch(ctx context.Context, model domain.AvailableModel, step domain.DynamicStep, prompt string) (string, int, int, error) {
	cb, err := e.breakerFor(model.Provider)
	if err != nil {
		return "", 0, 0, err
	}
	retryCfg := stepRetryConfig(step)

	var resp *clients.LLMResponse
	op := func() error {
		r, err := e.llm.Generate(ctx, clients.LLMRequest{
			Provider: model.Provider, Model: model.Name, Prompt: prompt,
			Temperature: step.Temperature, MaxTokens: step.MaxTokens,
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	if err := resilience.RetryWithCircuitBreaker(ctx, retryCfg, cb, op); err != nil {
		return "", 0, 0, err
	}
	return resp.Text, resp.InputTokens, resp.OutputTokens, nil
}

// handleStepFailure applies the required-vs-best-effort failure
// semantics: a required step's failure terminates the job, a
// best-effort step's failure is recorded and the pipeline continues.
func (e *Executor) handleStepFailure(ctx context.Context, processingID string, step domain.DynamicStep, run *runState, stepErr error) (*Outcome, bool, error) {
	job, jerr := e.jobs.GetByProcessingID(ctx, processingID)
	if jerr == nil {
		_ = e.jobs.InsertStepExecution(ctx, &domain.StepExecution{
			JobID: job.ID, StepID: step.ID, StepName: step.Name, StepOrder: step.Order,
			Status: domain.StepFailed, OutputText: "",
		})
	}

	if step.Band() == domain.BandUniversalPost {
		e.logger.WarnWithContext(ctx, "best-effort step failed, continuing with prior output", map[string]interface{}{
			"step": step.Name, "error": stepErr.Error(),
		})
		return nil, false, nil
	}

	if err := e.jobs.MarkFailed(ctx, processingID, step.Name, stepErr.Error()); err != nil {
		return nil, false, fmt.Errorf("executor: marking job failed: %w", err)
	}
	return &Outcome{
		Result: domain.Result{ProcessingID: processingID, Status: domain.JobFailed},
	}, true, core.WrapDomainError(core.KindProcessing, fmt.Sprintf("step %q failed", step.Name), stepErr)
}

// resolveBranchClass parses the branching step's output for
// branchingField: JSON object first, falling back to the last non-empty
// line as a bare token. The value is matched case-insensitively against
// the ClassKey of each given DocumentClass.
func resolveBranchClass(output, branchingField string, classes []domain.DocumentClass) string {
	value := extractBranchingValue(output, branchingField)
	if value == "" {
		return ""
	}
	for _, c := range classes {
		if strings.EqualFold(c.ClassKey, value) {
			return c.ClassKey
		}
	}
	return ""
}

func extractBranchingValue(output, branchingField string) string {
	var asJSON map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &asJSON); err == nil {
		if v, ok := asJSON[branchingField]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// matchStopCondition checks the step's output against its configured
// stop_on_values, normalized by trim+lowercase.
func matchStopCondition(step domain.DynamicStep, output string) (reason, message string, matchedValue string, stopped bool) {
	if len(step.StopOnValues) == 0 {
		return "", "", "", false
	}
	normalized := strings.ToLower(strings.TrimSpace(output))
	for _, v := range step.StopOnValues {
		if strings.ToLower(strings.TrimSpace(v)) == normalized {
			return step.StopReason, step.StopMessage, v, true
		}
	}
	return "", "", "", false
}

func estimateCost(model domain.AvailableModel, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*model.InputPricePer1K + float64(outputTokens)/1000*model.OutputPricePer1K
}
