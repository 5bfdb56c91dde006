// Package joblifecycle implements the job lifecycle manager: creating
// jobs from validated uploads, handing them to the broker, mapping
// internal status to the public API enum, and clearing content on
// non-consent or staleness.
package joblifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/queue"
	"github.com/medlingua/pipeline/storage"
)

// Manager is the API-side entry point to the Job's state machine:
// creation, enqueueing, status/result reads and content clearing. The
// executor records failure and termination on storage.JobRepository
// directly (MarkFailed, MarkTerminated).
type Manager struct {
	jobs     *storage.JobRepository
	broker   *queue.Broker
	registry *queue.WorkerRegistry
	logger   core.Logger
}

func New(jobs *storage.JobRepository, broker *queue.Broker, registry *queue.WorkerRegistry, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{jobs: jobs, broker: broker, registry: registry, logger: logger}
}

// CreateJob persists a new PENDING job and returns its externally visible
// processing id.
func (m *Manager) CreateJob(ctx context.Context, filename string, mimeClass domain.MimeClass, content []byte, targetLanguage string, pipelineSnapshot, ocrSnapshot []byte) (string, error) {
	job := &domain.Job{
		ProcessingID:     uuid.NewString(),
		Filename:         filename,
		MimeClass:        mimeClass,
		FileSize:         int64(len(content)),
		FileContent:      content,
		PipelineSnapshot: pipelineSnapshot,
		OCRSnapshot:      ocrSnapshot,
		TargetLanguage:   targetLanguage,
		Status:           domain.JobPending,
		Progress:         0,
		UploadedAt:       time.Now().UTC(),
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("joblifecycle: creating job: %w", err)
	}
	return job.ProcessingID, nil
}

// Enqueue verifies a worker is reachable for the document-processing
// queue, then hands the job to the broker and flips PENDING -> QUEUED.
// No state change occurs if no worker is reachable or the broker is
// unavailable.
func (m *Manager) Enqueue(ctx context.Context, processingID string) error {
	reachable, err := m.registry.AnyReachable(ctx, queue.RouteFor(queue.TaskProcessDocument))
	if err != nil {
		return fmt.Errorf("joblifecycle: checking worker reachability: %w", err)
	}
	if !reachable {
		return core.NewDomainError(core.KindServiceUnavailable, "no worker is currently reachable", nil)
	}

	ok, err := m.jobs.UpdateStatusCAS(ctx, processingID, domain.JobPending, domain.JobQueued)
	if err != nil {
		return fmt.Errorf("joblifecycle: transitioning job to QUEUED: %w", err)
	}
	if !ok {
		return core.NewDomainError(core.KindValidation, "job is not in a queueable state", map[string]interface{}{"processing_id": processingID})
	}

	if err := m.broker.Enqueue(ctx, queue.Task{
		ID:           processingID,
		Name:         queue.TaskProcessDocument,
		ProcessingID: processingID,
		EnqueuedAt:   time.Now().UTC(),
	}); err != nil {
		// Best effort: revert the CAS so a retry doesn't see a stuck QUEUED
		// job with nothing behind it. A concurrent worker winning this race
		// is acceptable; the CAS guard in MarkRunning only ever lets one in.
		_, _ = m.jobs.UpdateStatusCAS(ctx, processingID, domain.JobQueued, domain.JobPending)
		return fmt.Errorf("joblifecycle: enqueuing broker task: %w", err)
	}
	return nil
}

// MarkRunning transitions a picked-up job to RUNNING under the given worker id.
func (m *Manager) MarkRunning(ctx context.Context, processingID, workerID string) error {
	return m.jobs.MarkRunning(ctx, processingID, workerID)
}

// UpdateProgress advances a RUNNING job's progress percentage and records
// the step name the executor just completed, so GetStatus can derive a
// human-readable phase.
func (m *Manager) UpdateProgress(ctx context.Context, processingID string, percent int, stepName string) error {
	return m.jobs.UpdateProgress(ctx, processingID, percent, stepName)
}

// MarkCompleted persists the final result bundle and completes the job.
func (m *Manager) MarkCompleted(ctx context.Context, processingID string, result domain.Result) error {
	return m.jobs.MarkCompleted(ctx, processingID, result, result.BranchingPath)
}

// MarkFailed records a required-step failure.
func (m *Manager) MarkFailed(ctx context.Context, processingID, errorStep, message string) error {
	return m.jobs.MarkFailed(ctx, processingID, errorStep, message)
}

// MarkCancelled transitions a job to CANCELLED.
func (m *Manager) MarkCancelled(ctx context.Context, processingID string) error {
	return m.jobs.MarkCancelled(ctx, processingID)
}

// MarkTerminated records a successful early-stop termination.
func (m *Manager) MarkTerminated(ctx context.Context, processingID, reason, message, step string, result domain.Result) error {
	return m.jobs.MarkTerminated(ctx, processingID, reason, message, step, result)
}

// MarkTimeout transitions a RUNNING job to TIMEOUT, called by the worker
// wrapper's hard deadline, not by the executor itself.
func (m *Manager) MarkTimeout(ctx context.Context, processingID, activeStep string) error {
	return m.jobs.MarkTimeout(ctx, processingID, activeStep)
}

// GetStatus maps the internal job record to the public status view.
func (m *Manager) GetStatus(ctx context.Context, processingID string) (*domain.StatusView, error) {
	job, err := m.jobs.GetByProcessingID(ctx, processingID)
	if err != nil {
		return nil, err
	}
	view := &domain.StatusView{
		ProcessingID: job.ProcessingID,
		Status:       mapStatus(job),
		Progress:     job.Progress,
	}
	switch job.Status {
	case domain.JobFailed:
		view.Error = job.ErrorMessage
		view.CurrentStep = job.ErrorStep
	case domain.JobRunning:
		view.CurrentStep = job.ActiveStep
	}
	return view, nil
}

// GetResult returns the completed result bundle, or a NotCompleted domain
// error if the job has not reached a terminal success state.
func (m *Manager) GetResult(ctx context.Context, processingID string) (*domain.Result, error) {
	job, err := m.jobs.GetByProcessingID(ctx, processingID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted && job.Status != domain.JobTerminated {
		return nil, core.WrapDomainError(core.KindValidation, "job has not completed", core.ErrJobNotCompleted)
	}
	return &domain.Result{
		ProcessingID:           job.ProcessingID,
		Status:                 job.Status,
		OriginalText:           job.OriginalText,
		TranslatedText:         job.TranslatedText,
		LanguageTranslatedText: job.LanguageTranslatedText,
		DocumentTypeDetected:   job.DocumentTypeDetected,
		ConfidenceScore:        job.ConfidenceScore,
		BranchingPath:          job.BranchingPath,
		TerminationReason:      job.TerminationReason,
		TerminationMessage:     job.TerminationMessage,
		MatchedValue:           job.MatchedValue,
		GuidelinesText:         job.GuidelinesText,
	}, nil
}

// ClearContent nulls a job's content fields; idempotent.
func (m *Manager) ClearContent(ctx context.Context, processingID string) error {
	return m.jobs.ClearContent(ctx, processingID)
}

// SweepStaleContent clears content for jobs older than `after` that never
// received feedback: the periodic safety-net sweep.
func (m *Manager) SweepStaleContent(ctx context.Context, after time.Duration) (int, error) {
	ids, err := m.jobs.StaleWithoutFeedback(ctx, after)
	if err != nil {
		return 0, fmt.Errorf("joblifecycle: finding stale jobs: %w", err)
	}
	cleared := 0
	for _, id := range ids {
		if err := m.jobs.ClearContent(ctx, id); err != nil {
			m.logger.WarnWithContext(ctx, "stale content sweep failed for job", map[string]interface{}{
				"processing_id": id, "error": err.Error(),
			})
			continue
		}
		cleared++
	}
	return cleared, nil
}

func mapStatus(job *domain.Job) domain.APIStatus {
	switch job.Status {
	case domain.JobPending, domain.JobQueued:
		return domain.APIPending
	case domain.JobRunning:
		return domain.PhaseForStep(job.ActiveStep)
	case domain.JobCompleted:
		return domain.APICompleted
	case domain.JobFailed, domain.JobTimeout:
		return domain.APIError
	case domain.JobCancelled:
		return domain.APICancelled
	case domain.JobTerminated:
		return domain.APITerminated
	default:
		return domain.APIError
	}
}
