package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/propstack/mail-worker/internal/models"
)

var jobRowColumns = []string{
	"id", "job_type", "payload", "status", "priority", "scheduled_for",
	"attempts", "max_attempts", "idempotency_key", "last_error", "result",
	"connection_id", "user_id", "created_at", "updated_at", "started_at", "completed_at",
}

func jobRow(id string, jobType models.JobType, status models.JobStatus, attempts int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(jobRowColumns).AddRow(
		id, jobType, []byte(`{}`), status, 0, now,
		attempts, 3, nil, nil, nil,
		nil, nil, now, now, nil, nil,
	)
}

func newMockRepo(t *testing.T) (*JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewJobRepository(db), mock, func() { db.Close() }
}

func TestEnqueue_NewJob(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("generated-id"))

	job, err := repo.Enqueue(context.Background(), models.JobTypeProcessEmail,
		models.ProcessEmailPayload{GraphMessageID: "msg-1", ConnectionID: "conn-1", UserID: "user-1"},
		EnqueueOptions{IdempotencyKey: "process_email:conn-1:msg-1:created"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if job.Status != models.JobStatusPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, job.MaxAttempts)
	}
	if job.IdempotencyKey == nil || *job.IdempotencyKey != "process_email:conn-1:msg-1:created" {
		t.Errorf("idempotency key not set on job")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnqueue_DuplicateKeyReturnsExistingJob(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	// ON CONFLICT DO NOTHING yields no row, then the existing job is loaded.
	mock.ExpectQuery("INSERT INTO jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE idempotency_key").
		WillReturnRows(jobRow("existing-id", models.JobTypeProcessEmail, models.JobStatusCompleted, 1))

	job, err := repo.Enqueue(context.Background(), models.JobTypeProcessEmail,
		models.ProcessEmailPayload{GraphMessageID: "msg-1"},
		EnqueueOptions{IdempotencyKey: "process_email:conn-1:msg-1:created"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if job.ID != "existing-id" {
		t.Errorf("expected the existing job back, got %s", job.ID)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected existing job status unchanged, got %s", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFetchNextJob_ClaimsJob(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE jobs").
		WillReturnRows(jobRow("job-1", models.JobTypeSendEmail, models.JobStatusProcessing, 1))

	job, err := repo.FetchNextJob(context.Background())
	if err != nil {
		t.Fatalf("FetchNextJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimed job, got nil")
	}
	if job.Status != models.JobStatusProcessing {
		t.Errorf("expected status processing, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("expected attempts incremented to 1, got %d", job.Attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFetchNextJob_EmptyQueue(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE jobs").WillReturnError(sql.ErrNoRows)

	job, err := repo.FetchNextJob(context.Background())
	if err != nil {
		t.Fatalf("FetchNextJob failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job for empty queue, got %+v", job)
	}
}

func TestFailJob_ReschedulesWithBackoff(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT attempts FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
	mock.ExpectExec("UPDATE jobs").
		WithArgs(models.JobStatusPending, "boom", sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.FailJob(context.Background(), "job-1", errors.New("boom"), 3); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFailJob_DeadLettersAfterMaxAttempts(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT attempts FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))
	mock.ExpectExec("UPDATE jobs").
		WithArgs(models.JobStatusDead, "boom", sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.FailJob(context.Background(), "job-1", errors.New("boom"), 3); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 120 * time.Second},
		{attempts: 2, want: 480 * time.Second},
		{attempts: 3, want: 1920 * time.Second},
		{attempts: 4, want: time.Hour},
		{attempts: 10, want: time.Hour},
		{attempts: 100, want: time.Hour},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempts); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	// Only processing rows whose started_at predates the cutoff go back to
	// pending with a cleared started_at.
	mock.ExpectExec("UPDATE jobs").
		WithArgs(models.JobStatusPending, sqlmock.AnyArg(), models.JobStatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	recovered, err := repo.RecoverStaleJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}
	if recovered != 2 {
		t.Errorf("expected 2 recovered jobs, got %d", recovered)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecoverStaleJobs_NothingStale(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	recovered, err := repo.RecoverStaleJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}
	if recovered != 0 {
		t.Errorf("expected no recovered jobs, got %d", recovered)
	}
}

func TestRetryDeadJob_NotDead(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RetryDeadJob(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error for non-dead job")
	}
}

func TestCancelJob(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	cancelled, err := repo.CancelJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if !cancelled {
		t.Error("expected job to be cancelled")
	}

	mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	cancelled, err = repo.CancelJob(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if cancelled {
		t.Error("expected no cancellation for a claimed job")
	}
}

func TestGetStats_ZeroFillsMissingStatuses(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("dead", 1))

	stats, err := repo.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats[models.JobStatusPending] != 4 {
		t.Errorf("expected 4 pending, got %d", stats[models.JobStatusPending])
	}
	if stats[models.JobStatusDead] != 1 {
		t.Errorf("expected 1 dead, got %d", stats[models.JobStatusDead])
	}
	if count, ok := stats[models.JobStatusCompleted]; !ok || count != 0 {
		t.Errorf("expected completed reported as zero, got %d (present: %v)", count, ok)
	}
}
