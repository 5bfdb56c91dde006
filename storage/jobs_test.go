package storage

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlingua/pipeline/domain"
)

func newMockJobRepository(t *testing.T) (*JobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enc, err := NewEncryptor("", false)
	require.NoError(t, err)

	store := &Store{DB: sqlx.NewDb(db, "sqlmock"), Encryptor: enc}
	return NewJobRepository(store), mock
}

func TestJobRepository_UpdateStatusCASRejectsIllegalTransition(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	ok, err := repo.UpdateStatusCAS(context.Background(), "proc-1", domain.JobCompleted, domain.JobRunning)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "an illegal transition must never reach the database")
}

func TestJobRepository_UpdateStatusCASSucceedsOnSingleRowMatch(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobQueued, "proc-1", domain.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateStatusCAS(context.Background(), "proc-1", domain.JobPending, domain.JobQueued)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateStatusCASReturnsFalseOnNoRowsAffected(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobQueued, "proc-1", domain.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatusCAS(context.Background(), "proc-1", domain.JobPending, domain.JobQueued)
	require.NoError(t, err)
	assert.False(t, ok, "a concurrent transition losing the race reports false, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_MarkRunningErrorsWhenNoRowMatched(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobRunning, "worker-1", "proc-1", domain.JobPending, domain.JobQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRunning(context.Background(), "proc-1", "worker-1")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_MarkCancelledAllowsAnyActiveState(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobCancelled, "proc-1", domain.JobPending, domain.JobQueued, domain.JobRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkCancelled(context.Background(), "proc-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ClearContentIsIdempotentOnNoMatchingRow(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET file_content = NULL`).
		WithArgs("proc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ClearContent(context.Background(), "proc-1")
	require.NoError(t, err, "clearing already-cleared content is not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateGuidelinesWritesEncryptorOutput(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET guidelines_text`).
		WithArgs([]byte("bilingual guidance text"), "proc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateGuidelines(context.Background(), "proc-1", "bilingual guidance text")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateProgressRecordsActiveStep(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET progress`).
		WithArgs(40, "translate_document", "proc-1", domain.JobRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateProgress(context.Background(), "proc-1", 40, "translate_document")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_MarkTerminatedPersistsMatchedValue(t *testing.T) {
	repo, mock := newMockJobRepository(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobTerminated, "not_medical", "document is not a medical record",
			"classify_document", "NICHT_MEDIZINISCH", []byte(nil), []byte(nil), "proc-1", domain.JobRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkTerminated(context.Background(), "proc-1", "not_medical", "document is not a medical record",
		"classify_document", domain.Result{MatchedValue: "NICHT_MEDIZINISCH"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
