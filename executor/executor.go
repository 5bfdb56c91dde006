// Package executor implements the pipeline executor: it runs a job's
// snapshot of DynamicSteps end to end, banding them into universal-pre /
// class-specific / universal-post groups, handling the single branching
// step, stop-conditions, required vs best-effort failure semantics, and
// per-step cost accounting.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/clients"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/resilience"
	"github.com/medlingua/pipeline/storage"
)

// ProgressReporter is the narrow slice of the job lifecycle manager the
// executor needs to push progress updates without importing the whole
// joblifecycle package (which itself depends on the executor's outputs).
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, processingID string, percent int, stepName string) error
}

// CancelChecker reports whether a job's cancellation flag has been set.
// The executor only consults this between steps, never mid-call.
type CancelChecker func(ctx context.Context, processingID string) (bool, error)

// Outcome is what Run returns: either a completed result, a termination
// (a successful non-error terminal state), or a job-level failure.
type Outcome struct {
	Terminated         bool
	TerminationReason  string
	TerminationMessage string
	TerminationStep    string

	Result domain.Result
}

// Executor runs one job's pipeline snapshot.
type Executor struct {
	jobs     *storage.JobRepository
	models   map[int64]domain.AvailableModel
	llm      *clients.LLMClient
	logger   core.Logger
	progress ProgressReporter
	cancel   CancelChecker

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New builds an Executor. models is keyed by AvailableModel.ID, typically
// loaded once per run from storage/cache.
func New(jobs *storage.JobRepository, models map[int64]domain.AvailableModel, llm *clients.LLMClient, progress ProgressReporter, cancel CancelChecker, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Executor{
		jobs:     jobs,
		models:   models,
		llm:      llm,
		logger:   logger,
		progress: progress,
		cancel:   cancel,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (e *Executor) breakerFor(provider string) (*resilience.CircuitBreaker, error) {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[provider]; ok {
		return cb, nil
	}
	cb, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "llm." + provider,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		ErrorClassifier:  resilience.DefaultErrorClassifier,
		Logger:           e.logger,
	})
	if err != nil {
		return nil, err
	}
	e.breakers[provider] = cb
	return cb, nil
}

// Run executes every band of steps in order and returns the job's final
// outcome. steps must be the job's persisted snapshot (already filtered
// to enabled=true); classes is the set of document classes known at
// snapshot time.
func (e *Executor) Run(ctx context.Context, processingID string, ocrText string, targetLanguage string, steps []domain.DynamicStep, classes []domain.DocumentClass) (*Outcome, error) {
	bands := bandSteps(steps)
	total := len(bands.pre) + len(bands.class) + len(bands.post)
	if total == 0 {
		return &Outcome{Result: domain.Result{ProcessingID: processingID, Status: domain.JobCompleted, OriginalText: ocrText}}, nil
	}

	run := &runState{
		ctx:            domain.Context{"input_text": ocrText, "target_language": targetLanguage},
		previousOutput: ocrText,
		classes:        classes,
	}

	completed := 0
	reportProgress := func(stepName string) error {
		completed++
		pct := (100 * completed) / total
		if e.progress != nil {
			return e.progress.UpdateProgress(ctx, processingID, pct, stepName)
		}
		return nil
	}

	runBand := func(band []domain.DynamicStep) (*Outcome, error) {
		for _, step := range band {
			if e.cancel != nil {
				cancelled, err := e.cancel(ctx, processingID)
				if err != nil {
					return nil, fmt.Errorf("executor: checking cancellation: %w", err)
				}
				if cancelled {
					return &Outcome{Result: domain.Result{
						ProcessingID:   processingID,
						Status:         domain.JobCancelled,
						TranslatedText: run.previousOutput,
					}}, nil
				}
			}

			if step.Band() == domain.BandClassSpecific && !classMatches(step, run.selectedClassKey, classes) {
				e.recordSkip(ctx, processingID, step)
				if err := reportProgress(step.Name); err != nil {
					return nil, err
				}
				continue
			}

			outcome, ran, err := e.runStep(ctx, processingID, step, run)
			if err != nil {
				return nil, err
			}
			if outcome != nil {
				return outcome, nil
			}
			if !ran {
				if err := reportProgress(step.Name); err != nil {
					return nil, err
				}
				continue
			}

			if err := reportProgress(step.Name); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	for _, band := range [][]domain.DynamicStep{bands.pre, bands.class, bands.post} {
		outcome, err := runBand(band)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}

	result := domain.Result{
		ProcessingID:           processingID,
		Status:                 domain.JobCompleted,
		OriginalText:           ocrText,
		TranslatedText:         run.previousOutput,
		LanguageTranslatedText: run.ctx["language_translated_text"],
		DocumentTypeDetected:   run.selectedClassKey,
		BranchingPath:          run.branchingRawOutput,
	}
	return &Outcome{Result: result}, nil
}

// runState carries the mutable, per-run bookkeeping threaded through each
// step: the substitution context, the previous step's output (the
// {input_text} source for input_from_previous_step steps), and the
// branching decision once made.
type runState struct {
	ctx                domain.Context
	previousOutput     string
	lastStepOutput     string
	selectedClassKey   string
	branchingRawOutput string
	classes            []domain.DocumentClass
}

type bandedSteps struct {
	pre, class, post []domain.DynamicStep
}

func bandSteps(steps []domain.DynamicStep) bandedSteps {
	var b bandedSteps
	for _, s := range steps {
		switch s.Band() {
		case domain.BandUniversalPre:
			b.pre = append(b.pre, s)
		case domain.BandClassSpecific:
			b.class = append(b.class, s)
		case domain.BandUniversalPost:
			b.post = append(b.post, s)
		}
	}
	sortByOrder(b.pre)
	sortByOrder(b.class)
	sortByOrder(b.post)
	return b
}

func sortByOrder(steps []domain.DynamicStep) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
}

func classMatches(step domain.DynamicStep, selectedClassKey string, classes []domain.DocumentClass) bool {
	if step.DocumentClassID == nil || selectedClassKey == "" {
		return false
	}
	for _, c := range classes {
		if c.ID == *step.DocumentClassID {
			return strings.EqualFold(c.ClassKey, selectedClassKey)
		}
	}
	return false
}

func (e *Executor) recordSkip(ctx context.Context, processingID string, step domain.DynamicStep) {
	job, err := e.jobs.GetByProcessingID(ctx, processingID)
	if err != nil {
		return
	}
	_ = e.jobs.InsertStepExecution(ctx, &domain.StepExecution{
		JobID: job.ID, StepID: step.ID, StepName: step.Name, StepOrder: step.Order,
		Status: domain.StepSkipped,
	})
}
