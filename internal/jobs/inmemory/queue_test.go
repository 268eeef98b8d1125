package inmemory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerflow/internal/jobs"
)

func TestEnqueueAndGet(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", json.RawMessage(`{"text":"lunch 100"}`))
	require.NoError(t, err)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, jobs.KindParseText, job.Kind)
	assert.Equal(t, "alice", job.OwnerID)
	assert.Empty(t, job.ClaimToken)
}

func TestLeaseNext_OldestFirst(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	first, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	job, err := q.LeaseNext(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, jobs.StatusProcessing, job.Status)
	assert.NotEmpty(t, job.ClaimToken)
}

func TestLeaseNext_KindFilter(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	_, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)
	rowID, err := q.Enqueue(ctx, jobs.KindImportRow, "alice", nil)
	require.NoError(t, err)

	job, err := q.LeaseNext(ctx, jobs.KindImportRow)
	require.NoError(t, err)
	assert.Equal(t, rowID, job.ID)
}

func TestLeaseNext_Empty(t *testing.T) {
	q := NewQueue()
	_, err := q.LeaseNext(context.Background(), "")
	assert.ErrorIs(t, err, jobs.ErrNoPendingJobs)
}

// TestLeaseNext_MutualExclusion runs many concurrent lease attempts against
// one pending job; exactly one caller may win.
func TestLeaseNext_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	_, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	winners := make(chan *jobs.Job, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job, err := q.LeaseNext(ctx, ""); err == nil {
				winners <- job
			}
		}()
	}
	wg.Wait()
	close(winners)

	var leased []*jobs.Job
	for job := range winners {
		leased = append(leased, job)
	}
	require.Len(t, leased, 1)
	assert.Equal(t, jobs.StatusProcessing, leased[0].Status)
}

func TestCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	okID, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	leased, err := q.LeaseNext(ctx, "")
	require.NoError(t, err)
	require.Equal(t, okID, leased.ID)
	require.NoError(t, q.Complete(ctx, okID, json.RawMessage(`{"entries":2}`)))

	badID, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)
	_, err = q.LeaseNext(ctx, "")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, badID, "oracle timeout"))

	done, err := q.Get(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"entries":2}`, string(done.Result))
	assert.NotNil(t, done.ProcessedAt)

	failed, err := q.Get(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, failed.Status)
	assert.Equal(t, "oracle timeout", failed.Error)
	assert.True(t, failed.Status.Terminal())
}

// Complete and Fail only act on a leased job: a PENDING job cannot be
// finished, and a terminal state is never overwritten.
func TestCompleteAndFail_RequireLease(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, q.Complete(ctx, id, nil), jobs.ErrNotLeased)
	assert.ErrorIs(t, q.Fail(ctx, id, "boom"), jobs.ErrNotLeased)

	_, err = q.LeaseNext(ctx, "")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, id, json.RawMessage(`{"entries":1}`)))

	// Terminal now: a late Fail must not clobber the completed state.
	assert.ErrorIs(t, q.Fail(ctx, id, "late failure"), jobs.ErrNotLeased)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Empty(t, job.Error)
}

func TestGet_NotFound(t *testing.T) {
	q := NewQueue()
	_, err := q.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

// Failed jobs stay FAILED: the queue never hands them out again.
func TestFailedJobsNotRevisited(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	job, err := q.LeaseNext(ctx, "")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job.ID, "boom"))

	_, err = q.LeaseNext(ctx, "")
	assert.ErrorIs(t, err, jobs.ErrNoPendingJobs)

	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
}
