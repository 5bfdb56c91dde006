package joblifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/queue"
	"github.com/medlingua/pipeline/storage"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enc, err := storage.NewEncryptor("", false)
	require.NoError(t, err)
	jobs := storage.NewJobRepository(&storage.Store{DB: sqlx.NewDb(db, "sqlmock"), Encryptor: enc})

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	broker := queue.NewBroker(client, "test", nil, nil)
	registry := queue.NewWorkerRegistry(client, "test", nil)

	return New(jobs, broker, registry, nil), mock, mr
}

func TestManager_CreateJobInsertsPendingJob(t *testing.T) {
	mgr, mock, _ := newTestManager(t)

	mock.ExpectQuery(`INSERT INTO jobs`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	processingID, err := mgr.CreateJob(context.Background(), "report.pdf", domain.MimePDF, []byte("content"), "english", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, processingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_EnqueueFailsWhenNoWorkerReachable(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	err := mgr.Enqueue(context.Background(), "proc-1")
	assert.Error(t, err, "enqueue must refuse when no worker has a live heartbeat")
}

func TestManager_EnqueueTransitionsPendingToQueuedWhenWorkerReachable(t *testing.T) {
	mgr, mock, _ := newTestManager(t)

	require.NoError(t, mgr.registry.Heartbeat(context.Background(), queue.QueueOCR, "worker-1", time.Minute))

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobQueued, "proc-1", domain.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := mgr.Enqueue(context.Background(), "proc-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	length, err := mgr.broker.Length(context.Background(), queue.QueueOCR)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestManager_EnqueueRevertsCASWhenBrokerUnavailable(t *testing.T) {
	mgr, mock, _ := newTestManager(t)

	require.NoError(t, mgr.registry.Heartbeat(context.Background(), queue.QueueOCR, "worker-1", time.Minute))
	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobQueued, "proc-1", domain.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs(domain.JobPending, "proc-1", domain.JobQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Only the broker loses its Redis; the registry keeps the live
	// heartbeat, so Enqueue gets past the reachability check and fails
	// at the push.
	dead, err := miniredis.Run()
	require.NoError(t, err)
	deadClient := redis.NewClient(&redis.Options{Addr: dead.Addr()})
	t.Cleanup(func() { deadClient.Close() })
	dead.Close()
	mgr.broker = queue.NewBroker(deadClient, "test", nil, nil)

	err = mgr.Enqueue(context.Background(), "proc-1")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_GetStatusMapsRunningToExtractingText(t *testing.T) {
	mgr, mock, _ := newTestManager(t)

	rows := sqlmock.NewRows([]string{"id", "processing_id", "status", "progress"}).
		AddRow(1, "proc-1", domain.JobRunning, 40)
	mock.ExpectQuery(`SELECT \* FROM jobs`).WillReturnRows(rows)

	view, err := mgr.GetStatus(context.Background(), "proc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.APIExtractingText, view.Status)
	assert.Equal(t, 40, view.Progress)
}

func TestManager_GetResultRejectsIncompleteJob(t *testing.T) {
	mgr, mock, _ := newTestManager(t)

	rows := sqlmock.NewRows([]string{"id", "processing_id", "status"}).
		AddRow(1, "proc-1", domain.JobRunning)
	mock.ExpectQuery(`SELECT \* FROM jobs`).WillReturnRows(rows)

	_, err := mgr.GetResult(context.Background(), "proc-1")
	assert.Error(t, err)
}
