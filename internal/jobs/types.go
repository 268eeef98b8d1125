package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind discriminates the job flavors that share the queue engine.
type Kind string

const (
	// KindParseText is a natural-language parse job: free-form chat text
	// that the AI oracle turns into structured ledger entries.
	KindParseText Kind = "parse_text"

	// KindImportRow is a single exchange CSV row plus the column mapping
	// needed to normalize it.
	KindImportRow Kind = "import_row"

	// KindParseReceipt is a receipt-image parse job: the payload carries
	// the blob URI of the uploaded image, never the bytes themselves.
	KindParseReceipt Kind = "parse_receipt"
)

// Status represents the current state of a job.
type Status string

const (
	// StatusPending indicates the job is waiting to be leased.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates exactly one worker holds the lease.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted is terminal; never revisited automatically.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is terminal; reprocessing is a deliberate external
	// re-enqueue, never an automatic retry.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is one the queue never leaves on its own.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one durable work item.
type Job struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	OwnerID string          `json:"owner_id"`
	Payload json.RawMessage `json:"payload"`
	Status  Status          `json:"status"`

	// Result holds the structured output of a completed job.
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the captured failure string of a failed job.
	Error string `json:"error,omitempty"`

	// ClaimToken identifies the lease holder. Empty until leased.
	ClaimToken string `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ErrNoPendingJobs is returned by LeaseNext when the queue is empty. It is
// the idle signal, not a failure condition.
var ErrNoPendingJobs = errors.New("jobs: no pending jobs")

// ErrJobNotFound is returned when the referenced job does not exist.
var ErrJobNotFound = errors.New("jobs: job not found")

// ErrNotLeased is returned by Complete and Fail when the job is not in
// PROCESSING: either it was never leased or it already reached a terminal
// state. Terminal states are never overwritten.
var ErrNotLeased = errors.New("jobs: job is not leased")

// Queue is the durable, polling-based work queue. Implementations must make
// the PENDING→PROCESSING transition atomic with respect to concurrent
// workers: two LeaseNext calls never return the same job.
type Queue interface {
	// Enqueue persists a new PENDING job and returns its id.
	Enqueue(ctx context.Context, kind Kind, ownerID string, payload json.RawMessage) (string, error)

	// LeaseNext claims the oldest PENDING job of the given kind (empty
	// kind matches any) and transitions it to PROCESSING as one atomic
	// unit. Returns ErrNoPendingJobs when nothing is waiting.
	LeaseNext(ctx context.Context, kind Kind) (*Job, error)

	// Complete records the result and transitions the job to COMPLETED.
	// The job must currently be PROCESSING; ErrNotLeased otherwise.
	Complete(ctx context.Context, jobID string, result json.RawMessage) error

	// Fail records the error string and transitions the job to FAILED.
	// The job must currently be PROCESSING; ErrNotLeased otherwise.
	Fail(ctx context.Context, jobID string, errMsg string) error

	// Get fetches a job by id.
	Get(ctx context.Context, jobID string) (*Job, error)
}

// ParseTextPayload is the payload of a KindParseText job.
type ParseTextPayload struct {
	Text string `json:"text"`
}

// ParseReceiptPayload is the payload of a KindParseReceipt job. The worker
// fetches the image from the blob store by URI.
type ParseReceiptPayload struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
}

// ImportRowPayload is the payload of a KindImportRow job. The mapping is
// carried with each row so a worker can normalize it without re-detecting
// the format.
type ImportRowPayload struct {
	FormatID string          `json:"format_id"`
	Row      []string        `json:"row"`
	Mapping  json.RawMessage `json:"mapping"`
}
