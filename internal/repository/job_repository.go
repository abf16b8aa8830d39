package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/propstack/mail-worker/internal/models"
)

const (
	// DefaultMaxAttempts is the number of total claims a job gets before it
	// is dead-lettered, unless the enqueuer overrides it.
	DefaultMaxAttempts = 3

	maxBackoff = time.Hour
)

const jobColumns = `id, job_type, payload, status, priority, scheduled_for, attempts, max_attempts,
       idempotency_key, last_error, result, connection_id, user_id,
       created_at, updated_at, started_at, completed_at`

// JobRepository is the durable job store. The claim query is the single
// synchronization point for all worker processes sharing the table.
type JobRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnqueueOptions carries the optional enqueue parameters.
type EnqueueOptions struct {
	Priority       int
	ScheduledFor   *time.Time
	MaxAttempts    int
	IdempotencyKey string
	ConnectionID   string
	UserID         string
}

// Enqueue inserts a new pending job. When an idempotency key is supplied and
// a job with that key already exists, the existing job is returned unchanged
// and no new row is created.
func (r *JobRepository) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts EnqueueOptions) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	now := time.Now()
	scheduledFor := now
	if opts.ScheduledFor != nil {
		scheduledFor = *opts.ScheduledFor
	}

	job := models.Job{
		ID:           uuid.New().String(),
		JobType:      jobType,
		Payload:      data,
		Status:       models.JobStatusPending,
		Priority:     opts.Priority,
		ScheduledFor: scheduledFor,
		Attempts:     0,
		MaxAttempts:  opts.MaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.IdempotencyKey != "" {
		key := opts.IdempotencyKey
		job.IdempotencyKey = &key
	}
	if opts.ConnectionID != "" {
		connID := opts.ConnectionID
		job.ConnectionID = &connID
	}
	if opts.UserID != "" {
		userID := opts.UserID
		job.UserID = &userID
	}

	query := `
		INSERT INTO jobs (
			id, job_type, payload, status, priority, scheduled_for,
			attempts, max_attempts, idempotency_key, connection_id, user_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	var insertedID string
	err = r.db.QueryRowContext(ctx, query,
		job.ID, job.JobType, []byte(job.Payload), job.Status, job.Priority, job.ScheduledFor,
		job.Attempts, job.MaxAttempts, job.IdempotencyKey, job.ConnectionID, job.UserID,
		job.CreatedAt, job.UpdatedAt,
	).Scan(&insertedID)
	if err == sql.ErrNoRows {
		// Row with this idempotency key already exists; return it unchanged.
		return r.getByIdempotencyKey(ctx, opts.IdempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return &job, nil
}

// FetchNextJob atomically claims the highest-priority eligible pending job,
// transitioning it to processing and incrementing its attempt counter. The
// SKIP LOCKED subquery guarantees two concurrent callers never claim the same
// row. Returns (nil, nil) when nothing is eligible.
func (r *JobRepository) FetchNextJob(ctx context.Context, jobTypes ...models.JobType) (*models.Job, error) {
	now := time.Now()

	sub := sq.Select("id").
		From("jobs").
		Where(sq.Eq{"status": models.JobStatusPending}).
		Where(sq.LtOrEq{"scheduled_for": now}).
		OrderBy("priority DESC", "scheduled_for ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")
	if len(jobTypes) > 0 {
		types := make([]string, 0, len(jobTypes))
		for _, t := range jobTypes {
			types = append(types, string(t))
		}
		sub = sub.Where(sq.Eq{"job_type": types})
	}

	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build claim subquery: %w", err)
	}

	query, args, err := r.sb.Update("jobs").
		Set("status", models.JobStatusProcessing).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("started_at", now).
		Set("updated_at", now).
		Where(sq.Expr("id = ("+subSQL+")", subArgs...)).
		Suffix("RETURNING " + jobColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build claim query: %w", err)
	}

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// CompleteJob marks a job as completed, storing an optional result.
func (r *JobRepository) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	var data []byte
	if result != nil {
		var err error
		data, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	now := time.Now()
	query := `
		UPDATE jobs
		SET status = $1, result = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStatusCompleted, data, now, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob records a failure. Once the job has used up maxAttempts total
// claims it is dead-lettered; otherwise it goes back to pending with an
// exponential-backoff schedule so another claim can pick it up later.
func (r *JobRepository) FailJob(ctx context.Context, jobID string, jobErr error, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("failed to read job attempts: %w", err)
	}

	now := time.Now()
	errMsg := jobErr.Error()

	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, last_error = $2, completed_at = $3, updated_at = $4
			WHERE id = $5
		`, models.JobStatusDead, errMsg, now, now, jobID)
		if err != nil {
			return fmt.Errorf("failed to dead-letter job: %w", err)
		}
	} else {
		retryAt := now.Add(backoffDelay(attempts))
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, last_error = $2, scheduled_for = $3, updated_at = $4
			WHERE id = $5
		`, models.JobStatusPending, errMsg, retryAt, now, jobID)
		if err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}
	}

	return tx.Commit()
}

// backoffDelay returns min(4^attempts * 30s, 1h).
func backoffDelay(attempts int) time.Duration {
	d := time.Duration(math.Pow(4, float64(attempts))*30) * time.Second
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// GetJobsByStatus lists jobs in a given status, newest first.
func (r *JobRepository) GetJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query, args, err := r.sb.Select(jobColumns).
		From("jobs").
		Where(sq.Eq{"status": status}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetByID retrieves a single job.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetStats returns job counts grouped by status. Statuses with no rows are
// reported as zero.
func (r *JobRepository) GetStats(ctx context.Context) (map[models.JobStatus]int64, error) {
	stats := map[models.JobStatus]int64{
		models.JobStatusPending:    0,
		models.JobStatusProcessing: 0,
		models.JobStatusCompleted:  0,
		models.JobStatusFailed:     0,
		models.JobStatusDead:       0,
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats[status] = count
	}

	return stats, rows.Err()
}

// CleanupOldJobs hard-deletes completed jobs older than the retention window.
func (r *JobRepository) CleanupOldJobs(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = $1 AND completed_at < $2
	`, models.JobStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old jobs: %w", err)
	}

	return res.RowsAffected()
}

// RecoverStaleJobs resets jobs stuck in processing (crashed or hung worker)
// back to pending so they become claimable again.
func (r *JobRepository) RecoverStaleJobs(ctx context.Context, staleMinutes int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(staleMinutes) * time.Minute)
	now := time.Now()

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, started_at = NULL, updated_at = $2
		WHERE status = $3 AND started_at < $4
	`, models.JobStatusPending, now, models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	return res.RowsAffected()
}

// RetryDeadJob resets a dead job to pending with a fresh attempt budget.
// Manual operator action; no other transition leaves the dead status.
func (r *JobRepository) RetryDeadJob(ctx context.Context, jobID string) error {
	now := time.Now()

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, attempts = 0, last_error = NULL, scheduled_for = $2,
		    started_at = NULL, completed_at = NULL, updated_at = $3
		WHERE id = $4 AND status = $5
	`, models.JobStatusPending, now, now, jobID, models.JobStatusDead)
	if err != nil {
		return fmt.Errorf("failed to retry dead job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s is not dead or does not exist", jobID)
	}
	return nil
}

// CancelJob deletes a job that has not been claimed yet. Returns whether a
// row was actually deleted; in-flight jobs are never cancelled.
func (r *JobRepository) CancelJob(ctx context.Context, jobID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1 AND status = $2
	`, jobID, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *JobRepository) getByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = $1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *JobRepository) scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var payload, result []byte

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&payload,
		&job.Status,
		&job.Priority,
		&job.ScheduledFor,
		&job.Attempts,
		&job.MaxAttempts,
		&job.IdempotencyKey,
		&job.LastError,
		&result,
		&job.ConnectionID,
		&job.UserID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = payload
	job.Result = result
	return &job, nil
}

func (r *JobRepository) scanJobs(rows *sql.Rows) ([]models.Job, error) {
	var jobs []models.Job

	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, nil
}
