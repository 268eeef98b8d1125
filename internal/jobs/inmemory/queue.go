package inmemory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/ledgerflow/internal/jobs"
)

// Queue is an in-memory implementation of jobs.Queue. The claim step is
// serialized under a mutex, which gives the same lease guarantee the
// Postgres implementation gets from row locking. Suitable for tests and
// single-process runs; data is lost on restart.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		jobs: make(map[string]*jobs.Job),
	}
}

// Enqueue implements jobs.Queue.
func (q *Queue) Enqueue(ctx context.Context, kind jobs.Kind, ownerID string, payload json.RawMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &jobs.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   ownerID,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    jobs.StatusPending,
		CreatedAt: time.Now(),
	}
	q.jobs[job.ID] = job
	return job.ID, nil
}

// LeaseNext implements jobs.Queue. The oldest PENDING job is claimed with a
// compare-and-swap on the status field while the lock is held, so two
// concurrent callers can never lease the same job.
func (q *Queue) LeaseNext(ctx context.Context, kind jobs.Kind) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest *jobs.Job
	for _, job := range q.jobs {
		if job.Status != jobs.StatusPending {
			continue
		}
		if kind != "" && job.Kind != kind {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, jobs.ErrNoPendingJobs
	}

	oldest.Status = jobs.StatusProcessing
	oldest.ClaimToken = uuid.NewString()

	cp := *oldest
	return &cp, nil
}

// Complete implements jobs.Queue.
func (q *Queue) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	return q.finish(jobID, jobs.StatusCompleted, result, "")
}

// Fail implements jobs.Queue.
func (q *Queue) Fail(ctx context.Context, jobID string, errMsg string) error {
	return q.finish(jobID, jobs.StatusFailed, nil, errMsg)
}

func (q *Queue) finish(jobID string, status jobs.Status, result json.RawMessage, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if job.Status != jobs.StatusProcessing {
		return jobs.ErrNotLeased
	}
	job.Status = status
	job.Result = append(json.RawMessage(nil), result...)
	job.Error = errMsg
	now := time.Now()
	job.ProcessedAt = &now
	return nil
}

// Get implements jobs.Queue.
func (q *Queue) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// Ensure Queue implements the Queue interface.
var _ jobs.Queue = (*Queue)(nil)
