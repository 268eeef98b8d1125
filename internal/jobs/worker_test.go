package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerflow/internal/jobs"
	"github.com/dvloznov/ledgerflow/internal/jobs/inmemory"
	"github.com/dvloznov/ledgerflow/internal/logger"
)

// processAndWait runs the worker until the job reaches a terminal state.
func processAndWait(t *testing.T, w *jobs.Worker, q jobs.Queue, jobID string) *jobs.Job {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		job, err := q.Get(ctx, jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state, still %s", jobID, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	ctx := context.Background()
	q := inmemory.NewQueue()
	w := jobs.NewWorker(q, 10*time.Millisecond, time.Second, logger.New())

	w.Register(jobs.KindParseText, func(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
		var payload jobs.ParseTextPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"echo":"` + payload.Text + `"}`), nil
	})

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	job := processAndWait(t, w, q, id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.JSONEq(t, `{"echo":"hi"}`, string(job.Result))
}

func TestWorker_HandlerErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := inmemory.NewQueue()
	w := jobs.NewWorker(q, 10*time.Millisecond, time.Second, logger.New())

	w.Register(jobs.KindParseText, func(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
		return nil, errors.New("oracle returned garbage")
	})

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	job := processAndWait(t, w, q, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "oracle returned garbage")
}

func TestWorker_PanicMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := inmemory.NewQueue()
	w := jobs.NewWorker(q, 10*time.Millisecond, time.Second, logger.New())

	w.Register(jobs.KindParseText, func(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
		panic("unexpected shape")
	})

	id, err := q.Enqueue(ctx, jobs.KindParseText, "alice", nil)
	require.NoError(t, err)

	job := processAndWait(t, w, q, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "panic")
}

func TestWorker_UnknownKindFails(t *testing.T) {
	ctx := context.Background()
	q := inmemory.NewQueue()
	w := jobs.NewWorker(q, 10*time.Millisecond, time.Second, logger.New())

	id, err := q.Enqueue(ctx, jobs.KindImportRow, "alice", nil)
	require.NoError(t, err)

	job := processAndWait(t, w, q, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no handler")
}

func TestWorker_KickIsBestEffort(t *testing.T) {
	q := inmemory.NewQueue()
	w := jobs.NewWorker(q, time.Hour, time.Second, logger.New())

	// Multiple kicks coalesce; none may block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Kick()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kick blocked")
	}
}
