package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
)

// JobRepository persists Job rows, transparently encrypting the file
// payload and text content fields on write and decrypting on read.
type JobRepository struct {
	*Store
}

func NewJobRepository(s *Store) *JobRepository { return &JobRepository{Store: s} }

// Create inserts a new PENDING job, encrypting the file payload.
func (r *JobRepository) Create(ctx context.Context, j *domain.Job) error {
	encContent, err := r.Encryptor.Encrypt(j.FileContent)
	if err != nil {
		return fmt.Errorf("storage: encrypting file content: %w", err)
	}

	const q = `
		INSERT INTO jobs (processing_id, filename, mime_class, file_size, file_content,
			pipeline_snapshot, ocr_snapshot, target_language, status, progress, uploaded_at)
		VALUES (:processing_id, :filename, :mime_class, :file_size, :file_content,
			:pipeline_snapshot, :ocr_snapshot, :target_language, :status, :progress, :uploaded_at)
		RETURNING id`

	row := struct {
		*domain.Job
		FileContent []byte `db:"file_content"`
	}{Job: j, FileContent: encContent}

	rows, err := r.DB.NamedQueryContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("storage: inserting job: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&j.ID)
	}
	return nil
}

// GetByProcessingID fetches and decrypts a job by its external id.
func (r *JobRepository) GetByProcessingID(ctx context.Context, processingID string) (*domain.Job, error) {
	var j domain.Job
	const q = `SELECT * FROM jobs WHERE processing_id = $1`
	if err := r.DB.GetContext(ctx, &j, q, processingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewDomainError(core.KindNotFound, "job not found", map[string]interface{}{"processing_id": processingID})
		}
		return nil, fmt.Errorf("storage: fetching job: %w", err)
	}
	if err := r.decrypt(&j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepository) decrypt(j *domain.Job) error {
	var err error
	if j.FileContent, err = r.Encryptor.Decrypt(j.FileContent); err != nil {
		return fmt.Errorf("storage: decrypting file content: %w", err)
	}
	var derr error
	if j.GuidelinesText, derr = r.Encryptor.DecryptString([]byte(j.GuidelinesText)); derr != nil {
		return fmt.Errorf("storage: decrypting guidelines text: %w", derr)
	}
	if j.OriginalText, derr = r.Encryptor.DecryptString([]byte(j.OriginalText)); derr != nil {
		return fmt.Errorf("storage: decrypting original text: %w", derr)
	}
	if j.TranslatedText, derr = r.Encryptor.DecryptString([]byte(j.TranslatedText)); derr != nil {
		return fmt.Errorf("storage: decrypting translated text: %w", derr)
	}
	if j.LanguageTranslatedText, derr = r.Encryptor.DecryptString([]byte(j.LanguageTranslatedText)); derr != nil {
		return fmt.Errorf("storage: decrypting language-translated text: %w", derr)
	}
	return nil
}

// UpdateGuidelines stores the (optional, best-effort) bilingual guideline
// recommendation text produced by the guideline RAG client, encrypted at
// rest like the job's other free-text fields.
func (r *JobRepository) UpdateGuidelines(ctx context.Context, processingID, guidelinesText string) error {
	enc, err := r.Encryptor.EncryptString(guidelinesText)
	if err != nil {
		return fmt.Errorf("storage: encrypting guidelines text: %w", err)
	}
	const q = `UPDATE jobs SET guidelines_text = $1 WHERE processing_id = $2`
	_, err = r.DB.ExecContext(ctx, q, enc, processingID)
	return err
}

// UpdateStatusCAS performs a compare-and-swap status transition: the
// UPDATE only takes effect if the row's current status still matches
// `from`, guaranteeing at-most-once delivery across concurrent workers.
func (r *JobRepository) UpdateStatusCAS(ctx context.Context, processingID string, from, to domain.JobStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, core.NewDomainError(core.KindValidation, "illegal job state transition", map[string]interface{}{
			"from": from, "to": to,
		})
	}
	const q = `UPDATE jobs SET status = $1 WHERE processing_id = $2 AND status = $3`
	res, err := r.DB.ExecContext(ctx, q, to, processingID, from)
	if err != nil {
		return false, fmt.Errorf("storage: updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkRunning flips PENDING/QUEUED -> RUNNING and stamps started_at, worker_id.
func (r *JobRepository) MarkRunning(ctx context.Context, processingID, workerID string) error {
	const q = `UPDATE jobs SET status = $1, started_at = now(), worker_id = $2
		WHERE processing_id = $3 AND status IN ($4, $5)`
	res, err := r.DB.ExecContext(ctx, q, domain.JobRunning, workerID, processingID, domain.JobPending, domain.JobQueued)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// UpdateTargetLanguage overrides the target language recorded at upload
// time, allowed only while the job is still PENDING (POST
// /api/process/{id} may supply a different language than the initial
// upload did).
func (r *JobRepository) UpdateTargetLanguage(ctx context.Context, processingID, targetLanguage string) error {
	const q = `UPDATE jobs SET target_language = $1 WHERE processing_id = $2 AND status = $3`
	_, err := r.DB.ExecContext(ctx, q, targetLanguage, processingID, domain.JobPending)
	return err
}

// UpdateProgress advances progress and records the name of the step the
// executor just finished (or skipped), idempotent within the RUNNING
// state. GetStatus derives the public phase label from this step name.
func (r *JobRepository) UpdateProgress(ctx context.Context, processingID string, progress int, stepName string) error {
	const q = `UPDATE jobs SET progress = $1, active_step = $2 WHERE processing_id = $3 AND status = $4`
	_, err := r.DB.ExecContext(ctx, q, progress, stepName, processingID, domain.JobRunning)
	return err
}

// MarkCompleted writes the final result bundle, encrypting text fields.
func (r *JobRepository) MarkCompleted(ctx context.Context, processingID string, result domain.Result, branchingPath string) error {
	origEnc, err := r.Encryptor.EncryptString(result.OriginalText)
	if err != nil {
		return err
	}
	transEnc, err := r.Encryptor.EncryptString(result.TranslatedText)
	if err != nil {
		return err
	}
	langEnc, err := r.Encryptor.EncryptString(result.LanguageTranslatedText)
	if err != nil {
		return err
	}

	const q = `UPDATE jobs SET status = $1, progress = 100, completed_at = now(),
		original_text = $2, translated_text = $3, language_translated_text = $4,
		document_type_detected = $5, confidence_score = $6, branching_path = $7
		WHERE processing_id = $8 AND status = $9`
	res, err := r.DB.ExecContext(ctx, q, domain.JobCompleted, origEnc, transEnc, langEnc,
		result.DocumentTypeDetected, result.ConfidenceScore, branchingPath, processingID, domain.JobRunning)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// MarkFailed records a required-step failure.
func (r *JobRepository) MarkFailed(ctx context.Context, processingID, errorStep, message string) error {
	const q = `UPDATE jobs SET status = $1, failed_at = now(), error_step = $2, error_message = $3
		WHERE processing_id = $4 AND status = $5`
	res, err := r.DB.ExecContext(ctx, q, domain.JobFailed, errorStep, message, processingID, domain.JobRunning)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// MarkCancelled transitions a PENDING/QUEUED/RUNNING job to CANCELLED.
func (r *JobRepository) MarkCancelled(ctx context.Context, processingID string) error {
	const q = `UPDATE jobs SET status = $1 WHERE processing_id = $2
		AND status IN ($3, $4, $5)`
	res, err := r.DB.ExecContext(ctx, q, domain.JobCancelled, processingID,
		domain.JobPending, domain.JobQueued, domain.JobRunning)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// MarkTimeout transitions RUNNING -> TIMEOUT.
func (r *JobRepository) MarkTimeout(ctx context.Context, processingID, activeStep string) error {
	const q = `UPDATE jobs SET status = $1, failed_at = now(), error_step = $2
		WHERE processing_id = $3 AND status = $4`
	res, err := r.DB.ExecContext(ctx, q, domain.JobTimeout, activeStep, processingID, domain.JobRunning)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// MarkTerminated records a successful early-stop termination, including
// the stop condition's matched_value from result.MatchedValue.
func (r *JobRepository) MarkTerminated(ctx context.Context, processingID, reason, message, step string, result domain.Result) error {
	origEnc, _ := r.Encryptor.EncryptString(result.OriginalText)
	transEnc, _ := r.Encryptor.EncryptString(result.TranslatedText)

	const q = `UPDATE jobs SET status = $1, completed_at = now(),
		termination_reason = $2, termination_message = $3, termination_step = $4, matched_value = $5,
		original_text = $6, translated_text = $7
		WHERE processing_id = $8 AND status = $9`
	res, err := r.DB.ExecContext(ctx, q, domain.JobTerminated, reason, message, step, result.MatchedValue,
		origEnc, transEnc, processingID, domain.JobRunning)
	if err != nil {
		return err
	}
	return r.expectOneRow(res)
}

// ClearContent nulls all content fields for GDPR compliance. Idempotent.
func (r *JobRepository) ClearContent(ctx context.Context, processingID string) error {
	const q = `UPDATE jobs SET file_content = NULL, original_text = NULL,
		translated_text = NULL, language_translated_text = NULL, guidelines_text = NULL,
		content_cleared_at = now()
		WHERE processing_id = $1 AND content_cleared_at IS NULL`
	_, err := r.DB.ExecContext(ctx, q, processingID)
	return err
}

// StaleWithoutFeedback returns processing ids of jobs older than `after`
// that have no feedback row and have not yet had their content cleared —
// candidates for the safety-net content-clearing sweep.
func (r *JobRepository) StaleWithoutFeedback(ctx context.Context, after time.Duration) ([]string, error) {
	const q = `
		SELECT j.processing_id FROM jobs j
		WHERE j.content_cleared_at IS NULL
		  AND j.status IN ($1, $2, $3, $4, $5)
		  AND COALESCE(j.completed_at, j.failed_at, j.uploaded_at) < now() - $6::interval
		  AND NOT EXISTS (SELECT 1 FROM feedback f WHERE f.processing_id = j.processing_id)`
	var ids []string
	err := r.DB.SelectContext(ctx, &ids, q,
		domain.JobCompleted, domain.JobFailed, domain.JobCancelled, domain.JobTimeout, domain.JobTerminated,
		fmt.Sprintf("%d seconds", int(after.Seconds())))
	return ids, err
}

// ActiveJobs returns an anonymized overview of every job not yet in a
// terminal state, newest first, for GET /api/process/active.
func (r *JobRepository) ActiveJobs(ctx context.Context) ([]domain.ActiveJobView, error) {
	const q = `
		SELECT processing_id, status, progress, mime_class, uploaded_at
		FROM jobs
		WHERE status IN ($1, $2, $3)
		ORDER BY uploaded_at DESC`
	var rows []domain.ActiveJobView
	err := r.DB.SelectContext(ctx, &rows, q, domain.JobPending, domain.JobQueued, domain.JobRunning)
	if err != nil {
		return nil, fmt.Errorf("storage: listing active jobs: %w", err)
	}
	return rows, nil
}

func (r *JobRepository) expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewDomainError(core.KindProcessing, "no row transitioned (status mismatch)", nil)
	}
	return nil
}

// InsertStepExecution appends one StepExecution, encrypting input/output text.
func (r *JobRepository) InsertStepExecution(ctx context.Context, se *domain.StepExecution) error {
	inEnc, err := r.Encryptor.EncryptString(se.InputText)
	if err != nil {
		return err
	}
	outEnc, err := r.Encryptor.EncryptString(se.OutputText)
	if err != nil {
		return err
	}
	const q = `INSERT INTO step_executions
		(job_id, step_id, step_name, step_order, status, input_text, output_text,
		 model_used, prompt_used, confidence, input_tokens, output_tokens, execution_ms, retry_count, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id, created_at`
	row := r.DB.QueryRowContext(ctx, q, se.JobID, se.StepID, se.StepName, se.StepOrder, se.Status,
		inEnc, outEnc, se.ModelUsed, se.PromptUsed, se.Confidence, se.InputTokens, se.OutputTokens,
		se.ExecutionMS, se.RetryCount, se.Metadata)
	return row.Scan(&se.ID, &se.CreatedAt)
}

// StepExecutionsForJob returns every execution row for a job, ordered by
// step_order, with text fields decrypted.
func (r *JobRepository) StepExecutionsForJob(ctx context.Context, jobID int64) ([]domain.StepExecution, error) {
	var rows []domain.StepExecution
	const q = `SELECT * FROM step_executions WHERE job_id = $1 ORDER BY step_order ASC, created_at ASC`
	if err := r.DB.SelectContext(ctx, &rows, q, jobID); err != nil {
		return nil, err
	}
	for i := range rows {
		in, err := r.Encryptor.Decrypt([]byte(rows[i].InputText))
		if err == nil {
			rows[i].InputText = string(in)
		}
		out, err := r.Encryptor.Decrypt([]byte(rows[i].OutputText))
		if err == nil {
			rows[i].OutputText = string(out)
		}
	}
	return rows, nil
}

// CostSummaryRow is one aggregated row of the admin cost analytics view.
type CostSummaryRow struct {
	Provider     string  `db:"provider" json:"provider"`
	Model        string  `db:"model" json:"model"`
	InputTokens  int64   `db:"input_tokens" json:"input_tokens"`
	OutputTokens int64   `db:"output_tokens" json:"output_tokens"`
	TotalCostUSD float64 `db:"total_cost_usd" json:"total_cost_usd"`
	CallCount    int64   `db:"call_count" json:"call_count"`
}

// CostSummary aggregates ai_cost_logs by provider/model for the admin
// analytics endpoint.
func (r *JobRepository) CostSummary(ctx context.Context) ([]CostSummaryRow, error) {
	const q = `
		SELECT provider, model,
		       COALESCE(sum(input_tokens), 0)  AS input_tokens,
		       COALESCE(sum(output_tokens), 0) AS output_tokens,
		       COALESCE(sum(cost_usd), 0)      AS total_cost_usd,
		       count(*)                        AS call_count
		FROM ai_cost_logs
		GROUP BY provider, model
		ORDER BY total_cost_usd DESC`
	var rows []CostSummaryRow
	if err := r.DB.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("storage: aggregating cost summary: %w", err)
	}
	return rows, nil
}

// InsertCostLog appends one AI cost accounting row.
func (r *JobRepository) InsertCostLog(ctx context.Context, log *domain.AICostLog) error {
	const q = `INSERT INTO ai_cost_logs (processing_id, step_name, provider, model, input_tokens, output_tokens, cost_usd)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`
	row := r.DB.QueryRowContext(ctx, q, log.ProcessingID, log.StepName, log.Provider, log.Model,
		log.InputTokens, log.OutputTokens, log.CostUSD)
	return row.Scan(&log.ID, &log.CreatedAt)
}
