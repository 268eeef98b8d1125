package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one leased job and returns the structured result to be
// stored on completion. Returning an error marks the job FAILED; the queue
// never retries on its own.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)

// Worker polls the queue and dispatches leased jobs to registered handlers.
// Concurrency across machines comes from running multiple workers against
// the same store; the lease transition is the sole mutual-exclusion point,
// so the worker itself stays single-threaded.
type Worker struct {
	queue        Queue
	handlers     map[Kind]Handler
	pollInterval time.Duration
	jobTimeout   time.Duration
	kick         chan struct{}
	log          zerolog.Logger
}

// NewWorker creates a worker polling at the given interval. jobTimeout bounds
// a single job execution so one slow external collaborator cannot starve the
// worker indefinitely.
func NewWorker(queue Queue, pollInterval, jobTimeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		queue:        queue,
		handlers:     make(map[Kind]Handler),
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		kick:         make(chan struct{}, 1),
		log:          log,
	}
}

// Register binds a handler to a job kind. Must be called before Run.
func (w *Worker) Register(kind Kind, handler Handler) {
	w.handlers[kind] = handler
}

// Kick nudges the worker to poll immediately. Best-effort: if a nudge is
// already queued the call is a no-op, and a worker that is down simply picks
// the job up on its next poll.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. Each pass drains the queue, then
// sleeps until the next tick or kick.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("Worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping")
			return ctx.Err()
		case <-ticker.C:
		case <-w.kick:
		}
	}
}

// drain leases and processes jobs until the queue reports empty. A store
// failure aborts only the current attempt; remaining PENDING jobs are
// untouched for the next poll cycle.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.LeaseNext(ctx, "")
		if errors.Is(err, ErrNoPendingJobs) {
			return
		}
		if err != nil {
			w.log.Error().Err(err).Msg("Lease attempt failed")
			return
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.log.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("owner_id", job.OwnerID).
		Logger()

	handler, ok := w.handlers[job.Kind]
	if !ok {
		log.Error().Msg("No handler registered for job kind")
		w.fail(ctx, job.ID, fmt.Sprintf("no handler for kind %q", job.Kind), log)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	started := time.Now()
	result, err := w.runHandler(jobCtx, job, handler)
	if err != nil {
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("Job failed")
		w.fail(ctx, job.ID, err.Error(), log)
		return
	}

	if err := w.queue.Complete(ctx, job.ID, result); err != nil {
		log.Error().Err(err).Msg("Failed to record job completion")
		return
	}
	log.Info().Dur("took", time.Since(started)).Msg("Job completed")
}

// runHandler executes the handler with panic capture: a job that throws
// while PROCESSING is marked FAILED with the captured error string.
func (w *Worker) runHandler(ctx context.Context, job *Job, handler Handler) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) fail(ctx context.Context, jobID, msg string, log zerolog.Logger) {
	if err := w.queue.Fail(ctx, jobID, msg); err != nil {
		log.Error().Err(err).Msg("Failed to record job failure")
	}
}
