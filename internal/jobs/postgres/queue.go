package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/ledgerflow/internal/jobs"
)

// Queue is the durable Postgres implementation of jobs.Queue. The lease is a
// row-lock-and-update inside a single transaction: SELECT ... FOR UPDATE
// SKIP LOCKED picks the oldest PENDING row while concurrent workers skip
// past it, so only one worker ever wins a given job.
type Queue struct {
	pool *pgxpool.Pool
}

// NewQueue wraps the shared connection pool.
func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue implements jobs.Queue.
func (q *Queue) Enqueue(ctx context.Context, kind jobs.Kind, ownerID string, payload json.RawMessage) (string, error) {
	id := uuid.NewString()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, owner_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		id, string(kind), ownerID, payload, string(jobs.StatusPending),
	)
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue: %w", err)
	}
	return id, nil
}

// LeaseNext implements jobs.Queue. A failure here aborts only this lease
// attempt; other PENDING jobs are untouched for the next poll cycle.
func (q *Queue) LeaseNext(ctx context.Context, kind jobs.Kind) (*jobs.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: begin lease: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	token := uuid.NewString()
	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $1, claim_token = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3 AND ($4 = '' OR kind = $4)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, owner_id, payload, status, result, error, claim_token, created_at, processed_at`,
		string(jobs.StatusProcessing), token, string(jobs.StatusPending), string(kind))

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNoPendingJobs
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: lease next: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("jobs: commit lease: %w", err)
	}
	return job, nil
}

// Complete implements jobs.Queue. The status guard in the WHERE clause keeps
// terminal states immutable: only a PROCESSING row can be completed.
func (q *Queue) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, error = '', processed_at = now()
		WHERE id = $1 AND status = $4`,
		jobID, string(jobs.StatusCompleted), result, string(jobs.StatusProcessing))
	if err != nil {
		return fmt.Errorf("jobs: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.finishMissError(ctx, jobID)
	}
	return nil
}

// Fail implements jobs.Queue. The error string is truncated so a huge
// upstream message cannot blow up the row; the status guard mirrors Complete.
func (q *Queue) Fail(ctx context.Context, jobID string, errMsg string) error {
	const maxLen = 2000
	if len(errMsg) > maxLen {
		errMsg = errMsg[:maxLen]
	}
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error = $3, processed_at = now()
		WHERE id = $1 AND status = $4`,
		jobID, string(jobs.StatusFailed), errMsg, string(jobs.StatusProcessing))
	if err != nil {
		return fmt.Errorf("jobs: fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.finishMissError(ctx, jobID)
	}
	return nil
}

// finishMissError tells apart the two reasons a guarded finish can touch no
// rows: the job does not exist, or it exists in a non-PROCESSING state.
func (q *Queue) finishMissError(ctx context.Context, jobID string) error {
	var exists bool
	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("jobs: check job %s: %w", jobID, err)
	}
	if !exists {
		return jobs.ErrJobNotFound
	}
	return jobs.ErrNotLeased
}

// Get implements jobs.Queue.
func (q *Queue) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, kind, owner_id, payload, status, result, error, claim_token, created_at, processed_at
		FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get: %w", err)
	}
	return job, nil
}

// Requeue resets a FAILED job to PENDING. This is the deliberate external
// reprocessing action; the queue itself never retries.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error = '', result = NULL, claim_token = '', processed_at = NULL
		WHERE id = $1 AND status = $3`,
		jobID, string(jobs.StatusPending), string(jobs.StatusFailed))
	if err != nil {
		return fmt.Errorf("jobs: requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var job jobs.Job
	var kind, status string
	var processedAt *time.Time
	err := row.Scan(
		&job.ID, &kind, &job.OwnerID, &job.Payload, &status,
		&job.Result, &job.Error, &job.ClaimToken, &job.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = jobs.Kind(kind)
	job.Status = jobs.Status(status)
	job.ProcessedAt = processedAt
	return &job, nil
}

// Ensure Queue implements the Queue interface.
var _ jobs.Queue = (*Queue)(nil)
