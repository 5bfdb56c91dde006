package feedback

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/storage"
)

func TestReconstructTexts_MatchesStepsByNameHint(t *testing.T) {
	executions := []domain.StepExecution{
		{StepName: "ocr_extraction", Status: domain.StepCompleted, OutputText: "raw text"},
		{StepName: "pii_removal", Status: domain.StepCompleted, OutputText: "anonymized text"},
		{StepName: "translate_to_english", Status: domain.StepCompleted, OutputText: "translated v1"},
		{StepName: "translate_final_polish", Status: domain.StepCompleted, OutputText: "translated v2"},
		{StepName: "quality_gate", Status: domain.StepFailed, OutputText: "ignored"},
	}

	ocrText, piiText, translatedText := reconstructTexts(executions)
	assert.Equal(t, "raw text", ocrText)
	assert.Equal(t, "anonymized text", piiText)
	assert.Equal(t, "translated v2", translatedText, "the last translation-named step should win")
}

func TestReconstructTexts_IgnoresIncompleteSteps(t *testing.T) {
	executions := []domain.StepExecution{
		{StepName: "ocr_extraction", Status: domain.StepFailed, OutputText: "should not appear"},
	}
	ocrText, _, _ := reconstructTexts(executions)
	assert.Empty(t, ocrText)
}

func newTestAnalyzer(t *testing.T) (*Analyzer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enc, err := storage.NewEncryptor("", false)
	require.NoError(t, err)
	store := &storage.Store{DB: sqlx.NewDb(db, "sqlmock"), Encryptor: enc}

	analyzer, err := New(storage.NewJobRepository(store), storage.NewFeedbackRepository(store), nil, nil)
	require.NoError(t, err)
	return analyzer, mock
}

func TestAnalyzer_AnalyzeSkipsWhenContentAlreadyCleared(t *testing.T) {
	analyzer, mock := newTestAnalyzer(t)

	jobRows := sqlmock.NewRows([]string{"id", "processing_id", "status"}).AddRow(7, "proc-1", domain.JobCompleted)
	mock.ExpectQuery(`SELECT \* FROM jobs`).WillReturnRows(jobRows)

	execRows := sqlmock.NewRows([]string{"id", "job_id", "step_name", "status", "output_text"})
	mock.ExpectQuery(`SELECT \* FROM step_executions`).WithArgs(int64(7)).WillReturnRows(execRows)

	mock.ExpectExec(`UPDATE feedback SET analysis_status`).
		WithArgs(domain.AnalysisSkipped, domain.JSONMap(nil), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := analyzer.Analyze(context.Background(), 42, "proc-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
