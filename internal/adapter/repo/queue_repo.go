package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelmint/internal/domain"
)

// JobQueuePG implements domain.JobQueue on a Postgres table. Claiming
// uses FOR UPDATE SKIP LOCKED so concurrent workers never double-claim a
// job.
type JobQueuePG struct {
	pool *pgxpool.Pool
}

// NewJobQueue creates a queue backed by PostgreSQL.
func NewJobQueue(pool *pgxpool.Pool) *JobQueuePG {
	return &JobQueuePG{pool: pool}
}

// Enqueue inserts a runnable job.
func (q *JobQueuePG) Enqueue(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, status, priority, payload, attempt_count, max_attempts, next_run_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, now());
`
	_, err = q.pool.Exec(ctx, query, job.ID, job.UserID, domain.JobQueued, job.Priority, payload, job.MaxAttempts)
	return err
}

// Claim atomically takes the oldest runnable job, marks it running, and
// bumps its attempt counter. Returns domain.ErrNotFound when nothing is
// due.
func (q *JobQueuePG) Claim(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = $1 AND next_run_at <= now()
    ORDER BY priority DESC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE jobs
    SET status = $2, attempt_count = attempt_count + 1, updated_at = now()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING id, user_id, status, priority, payload, attempt_count, max_attempts, next_run_at, created_at, updated_at
)
SELECT * FROM claimed;
`
	row := q.pool.QueryRow(ctx, query, domain.JobQueued, domain.JobRunning)

	var job domain.Job
	var payload []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Priority,
		&payload,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.NextRunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}

// Complete terminally succeeds the job.
func (q *JobQueuePG) Complete(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1;
`
	_, err := q.pool.Exec(ctx, query, jobID, domain.JobSucceeded)
	return err
}

// Fail requeues the job with exponential backoff while attempts remain,
// otherwise marks it failed. Reports whether another attempt is
// scheduled.
func (q *JobQueuePG) Fail(ctx context.Context, jobID string, attempt, maxAttempts int, backoff time.Duration, errMsg string) (bool, error) {
	if attempt < maxAttempts {
		delay := domain.RetryBackoff(backoff, attempt)
		query := `
UPDATE jobs
SET status = $2, next_run_at = now() + $3, last_error = $4, updated_at = now()
WHERE id = $1;
`
		_, err := q.pool.Exec(ctx, query, jobID, domain.JobQueued, delay, errMsg)
		return err == nil, err
	}
	query := `
UPDATE jobs SET status = $2, last_error = $3, updated_at = now() WHERE id = $1;
`
	_, err := q.pool.Exec(ctx, query, jobID, domain.JobFailed, errMsg)
	return false, err
}

var _ domain.JobQueue = (*JobQueuePG)(nil)
