package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledgerflow/internal/api/middleware"
	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/importer"
	"github.com/dvloznov/ledgerflow/internal/jobs"
	"github.com/dvloznov/ledgerflow/internal/snapshot"
)

// Ledger is the slice of the ledger write service the handlers need.
type Ledger interface {
	WriteTransaction(ctx context.Context, tx *domain.Transaction) error
	ApplyToAccount(ctx context.Context, tx *domain.Transaction, accountName string) error
	ListTransactions(ctx context.Context, ownerID string, limit int) ([]*domain.Transaction, error)
}

// TransactionsHandler handles the synchronous ledger write path.
type TransactionsHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

func NewTransactionsHandler(ledger Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{ledger: ledger, log: log}
}

type transactionRequest struct {
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fee           decimal.Decimal `json:"fee"`
	OccurredAt    string          `json:"occurred_at"`
	Note          string          `json:"note"`

	// Account, when set, also applies the signed amount to that account's
	// balance.
	Account string `json:"account"`
}

// Create handles POST /api/transactions
func (h *TransactionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		t, err := parseTimestamp(req.OccurredAt)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid occurred_at")
			return
		}
		occurredAt = t
	}

	tx := &domain.Transaction{
		OwnerID:       req.OwnerID,
		Amount:        req.Amount,
		Direction:     domain.Direction(req.Direction),
		Category:      req.Category,
		Description:   req.Description,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		UnitPrice:     req.UnitPrice,
		Quantity:      req.Quantity,
		Fee:           req.Fee,
		OccurredAt:    occurredAt,
		Note:          req.Note,
	}

	ctx := r.Context()
	if err := h.ledger.WriteTransaction(ctx, tx); err != nil {
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Account != "" {
		if err := h.ledger.ApplyToAccount(ctx, tx, req.Account); err != nil {
			h.log.Error().Err(err).Int64("transaction_id", tx.ID).Msg("Failed to apply transaction to account")
			middleware.WriteError(w, http.StatusInternalServerError, "Transaction stored but account update failed")
			return
		}
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     tx.ID,
		"status": "created",
	})
}

// List handles GET /api/transactions
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	txs, err := h.ledger.ListTransactions(r.Context(), ownerID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, txs)
}

// BlobStore is the slice of the blob store the upload path needs.
type BlobStore interface {
	Put(ctx context.Context, objectName string, data []byte) (string, error)
}

// IngestHandler enqueues asynchronous ingestion jobs: free-text parses,
// receipt uploads and CSV imports. Each enqueue nudges the worker so the job
// does not wait for the next poll tick.
type IngestHandler struct {
	queue    jobs.Queue
	inferrer importer.SchemaInferrer
	blobs    BlobStore
	nudge    func()
	log      zerolog.Logger
}

// NewIngestHandler creates the handler. inferrer may be nil (unknown CSV
// formats are then rejected); blobs may be nil (receipt uploads are then
// rejected); nudge may be nil.
func NewIngestHandler(queue jobs.Queue, inferrer importer.SchemaInferrer, blobs BlobStore, nudge func(), log zerolog.Logger) *IngestHandler {
	if nudge == nil {
		nudge = func() {}
	}
	return &IngestHandler{queue: queue, inferrer: inferrer, blobs: blobs, nudge: nudge, log: log}
}

// EnqueueParse handles POST /api/parse
func (h *IngestHandler) EnqueueParse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OwnerID == "" || req.Text == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner_id and text are required")
		return
	}

	payload, err := json.Marshal(jobs.ParseTextPayload{Text: req.Text})
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode payload")
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), jobs.KindParseText, req.OwnerID, payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue parse job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue parse job")
		return
	}
	h.nudge()

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(jobs.StatusPending),
	})
}

// maxReceiptBytes caps an uploaded receipt image.
const maxReceiptBytes = 10 << 20

// UploadReceipt handles POST /api/receipts. The body is the raw image; it is
// stored in the blob store and a parse_receipt job carrying the URI is
// enqueued, so the queue never holds image bytes.
func (h *IngestHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}
	if h.blobs == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Receipt uploads are not configured")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxReceiptBytes)
	image, err := io.ReadAll(body)
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Receipt image too large")
		return
	}
	if len(image) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Request body is empty")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = "image/jpeg"
	}

	ctx := r.Context()
	objectName := "receipts/" + uuid.NewString() + extensionFor(mimeType)
	uri, err := h.blobs.Put(ctx, objectName, image)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to store receipt image")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store receipt image")
		return
	}

	payload, err := json.Marshal(jobs.ParseReceiptPayload{URI: uri, MIMEType: mimeType})
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode payload")
		return
	}
	jobID, err := h.queue.Enqueue(ctx, jobs.KindParseReceipt, ownerID, payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue receipt job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue receipt job")
		return
	}
	h.nudge()

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"uri":    uri,
		"status": string(jobs.StatusPending),
	})
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}

// ImportCSV handles POST /api/imports. The body is the raw CSV export; the
// owner comes from the query string. The format is detected (or inferred)
// once here, then one import_row job is enqueued per data row carrying the
// mapping, so workers never re-detect.
func (h *IngestHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}

	header, rows, err := importer.ReadCSV(r.Body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid CSV: %v", err))
		return
	}
	if len(rows) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "CSV has no data rows")
		return
	}

	ctx := r.Context()
	formatID := importer.DetectFormat(header)

	var mappingJSON json.RawMessage
	if importer.BuiltinMapping(formatID) == nil {
		if h.inferrer == nil {
			middleware.WriteError(w, http.StatusUnprocessableEntity, "Unknown CSV format")
			return
		}
		sample := rows
		if len(sample) > 5 {
			sample = sample[:5]
		}
		mapping, err := h.inferrer.InferSchema(ctx, header, sample)
		if err != nil {
			h.log.Error().Err(err).Msg("Schema inference failed")
			middleware.WriteError(w, http.StatusUnprocessableEntity, "Could not infer CSV schema")
			return
		}
		if mappingJSON, err = json.Marshal(mapping); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode mapping")
			return
		}
	}

	jobIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		payload, err := json.Marshal(jobs.ImportRowPayload{
			FormatID: formatID,
			Row:      row,
			Mapping:  mappingJSON,
		})
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode payload")
			return
		}
		jobID, err := h.queue.Enqueue(ctx, jobs.KindImportRow, ownerID, payload)
		if err != nil {
			h.log.Error().Err(err).Int("enqueued", len(jobIDs)).Msg("Failed to enqueue import job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import jobs")
			return
		}
		jobIDs = append(jobIDs, jobID)
	}
	h.nudge()

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"format":  formatID,
		"jobs":    len(jobIDs),
		"job_ids": jobIDs,
	})
}

// JobsHandler exposes job status lookups.
type JobsHandler struct {
	queue jobs.Queue
	log   zerolog.Logger
}

func NewJobsHandler(queue jobs.Queue, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{queue: queue, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ReportsHandler exposes the derived net-worth views.
type ReportsHandler struct {
	agg *snapshot.Aggregator
	log zerolog.Logger
}

func NewReportsHandler(agg *snapshot.Aggregator, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{agg: agg, log: log}
}

// NetWorth handles GET /api/networth
func (h *ReportsHandler) NetWorth(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}

	nw, err := h.agg.ComputeNetWorth(r.Context(), ownerID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute net worth")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute net worth")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nw)
}

// History handles GET /api/history
func (h *ReportsHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ownerID := query.Get("owner")
	if ownerID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}

	to := civil.DateOf(time.Now().UTC())
	from := to.AddDays(-30)
	var err error
	if s := query.Get("from"); s != "" {
		if from, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date")
			return
		}
	}
	if s := query.Get("to"); s != "" {
		if to, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date")
			return
		}
	}

	points, err := h.agg.HistoryTrend(r.Context(), ownerID, from, to)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build history trend")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build history trend")
		return
	}
	if points == nil {
		points = []snapshot.TrendPoint{}
	}
	middleware.WriteJSON(w, http.StatusOK, points)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
