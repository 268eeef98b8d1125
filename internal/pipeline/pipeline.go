// Package pipeline wires the asynchronous ingestion path: it turns leased
// queue jobs into ledger writes via the AI parse oracle and the CSV
// normalizer.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/importer"
	"github.com/dvloznov/ledgerflow/internal/jobs"
)

// cashAccount names the cash account parsed entries land in. One account per
// currency: a TWD lunch and a BTC transfer must never share a balance.
func cashAccount(currency string) string {
	return "Cash-" + currency
}

// Parser is the slice of the AI oracle the pipeline needs.
type Parser interface {
	ParseText(ctx context.Context, text, ownerID string) ([]*domain.Transaction, error)
	ParseReceipt(ctx context.Context, image []byte, mimeType, ownerID string) ([]*domain.Transaction, error)
}

// BlobFetcher loads raw input bytes behind a URI.
type BlobFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Ledger is the slice of the ledger write service the pipeline needs.
type Ledger interface {
	WriteTransaction(ctx context.Context, tx *domain.Transaction) error
	ApplyToAccount(ctx context.Context, tx *domain.Transaction, accountName string) error
}

// ParseResult is the structured output stored on a completed parse_text or
// parse_receipt job.
type ParseResult struct {
	Entries        int     `json:"entries"`
	TransactionIDs []int64 `json:"transaction_ids"`
}

// ImportRowResult is the structured output stored on a completed import job.
type ImportRowResult struct {
	Skipped       bool  `json:"skipped"`
	TransactionID int64 `json:"transaction_id,omitempty"`
}

// Pipeline holds the job handlers for all job kinds.
type Pipeline struct {
	parser Parser
	blobs  BlobFetcher
	ledger Ledger
	log    zerolog.Logger
}

// New creates the pipeline. blobs may be nil; receipt jobs then fail until a
// blob store is configured.
func New(parser Parser, blobs BlobFetcher, ledger Ledger, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		parser: parser,
		blobs:  blobs,
		ledger: ledger,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Register binds the handlers to their job kinds on the worker.
func (p *Pipeline) Register(w *jobs.Worker) {
	w.Register(jobs.KindParseText, p.HandleParseText)
	w.Register(jobs.KindParseReceipt, p.HandleParseReceipt)
	w.Register(jobs.KindImportRow, p.HandleImportRow)
}

// HandleParseText runs the AI oracle over free-form text and writes every
// extracted entry to the ledger.
func (p *Pipeline) HandleParseText(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var payload jobs.ParseTextPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode parse_text payload: %w", err)
	}
	if payload.Text == "" {
		return nil, fmt.Errorf("parse_text payload has no text")
	}

	txs, err := p.parser.ParseText(ctx, payload.Text, job.OwnerID)
	if err != nil {
		return nil, err
	}
	return p.writeEntries(ctx, job, txs)
}

// HandleParseReceipt fetches the uploaded image from the blob store and runs
// the vision parse over it; extracted entries land in the ledger the same way
// text entries do.
func (p *Pipeline) HandleParseReceipt(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var payload jobs.ParseReceiptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode parse_receipt payload: %w", err)
	}
	if payload.URI == "" {
		return nil, fmt.Errorf("parse_receipt payload has no uri")
	}
	if p.blobs == nil {
		return nil, fmt.Errorf("no blob store configured for receipt jobs")
	}

	image, err := p.blobs.Fetch(ctx, payload.URI)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", payload.URI, err)
	}

	mimeType := payload.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	txs, err := p.parser.ParseReceipt(ctx, image, mimeType, job.OwnerID)
	if err != nil {
		return nil, err
	}
	return p.writeEntries(ctx, job, txs)
}

// writeEntries persists parsed entries, each applied to its own currency's
// cash account.
func (p *Pipeline) writeEntries(ctx context.Context, job *jobs.Job, txs []*domain.Transaction) (json.RawMessage, error) {
	result := ParseResult{Entries: len(txs)}
	for _, tx := range txs {
		if err := p.ledger.WriteTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("write parsed transaction: %w", err)
		}
		if err := p.ledger.ApplyToAccount(ctx, tx, cashAccount(tx.BaseCurrency)); err != nil {
			return nil, fmt.Errorf("apply parsed transaction to account: %w", err)
		}
		result.TransactionIDs = append(result.TransactionIDs, tx.ID)
	}

	p.log.Info().Str("job", job.ID).Str("kind", string(job.Kind)).Int("entries", result.Entries).Msg("parse job completed")
	return json.Marshal(result)
}

// HandleImportRow normalizes one CSV row using the mapping carried in the
// payload (or the builtin mapping for known formats) and writes it.
func (p *Pipeline) HandleImportRow(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var payload jobs.ImportRowPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode import_row payload: %w", err)
	}

	mapping := importer.BuiltinMapping(payload.FormatID)
	if len(payload.Mapping) > 0 {
		mapping = &importer.ColumnMapping{}
		if err := json.Unmarshal(payload.Mapping, mapping); err != nil {
			return nil, fmt.Errorf("decode column mapping: %w", err)
		}
	}
	if mapping == nil {
		return nil, fmt.Errorf("no column mapping for format %q", payload.FormatID)
	}

	tx, err := importer.Normalize(payload.Row, mapping, job.OwnerID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		// Dropped row (non-final status or unresolvable side): the job
		// still completes, it just produced nothing.
		return json.Marshal(ImportRowResult{Skipped: true})
	}

	if err := p.ledger.WriteTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("write imported transaction: %w", err)
	}
	return json.Marshal(ImportRowResult{TransactionID: tx.ID})
}
