package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/importer"
	"github.com/dvloznov/ledgerflow/internal/jobs"
	"github.com/dvloznov/ledgerflow/internal/jobs/inmemory"
	"github.com/dvloznov/ledgerflow/internal/ledger"
	"github.com/dvloznov/ledgerflow/internal/logger"
	"github.com/dvloznov/ledgerflow/internal/store/memory"
)

type stubParser struct {
	txs      []*domain.Transaction
	err      error
	gotImage []byte
	gotMIME  string
}

func (s *stubParser) ParseText(_ context.Context, _, ownerID string) ([]*domain.Transaction, error) {
	for _, tx := range s.txs {
		tx.OwnerID = ownerID
	}
	return s.txs, s.err
}

func (s *stubParser) ParseReceipt(_ context.Context, image []byte, mimeType, ownerID string) ([]*domain.Transaction, error) {
	s.gotImage = image
	s.gotMIME = mimeType
	for _, tx := range s.txs {
		tx.OwnerID = ownerID
	}
	return s.txs, s.err
}

// stubBlobs serves blobs from a map keyed by URI.
type stubBlobs map[string][]byte

func (s stubBlobs) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, ok := s[uri]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return data, nil
}

func newTestPipeline(parser Parser) (*Pipeline, *memory.Store) {
	return newTestPipelineWithBlobs(parser, nil)
}

func newTestPipelineWithBlobs(parser Parser, blobs BlobFetcher) (*Pipeline, *memory.Store) {
	mem := memory.NewStore()
	svc := ledger.NewService(mem, mem, logger.New())
	return New(parser, blobs, svc, logger.New()), mem
}

func parseJob(t *testing.T, text string) *jobs.Job {
	t.Helper()
	payload, err := json.Marshal(jobs.ParseTextPayload{Text: text})
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", Kind: jobs.KindParseText, OwnerID: "alice", Payload: payload}
}

func TestHandleParseText(t *testing.T) {
	parser := &stubParser{txs: []*domain.Transaction{
		{Amount: decimal.NewFromInt(250), Direction: domain.DirectionDebit, Category: "Food", Description: "lunch", BaseCurrency: "TWD", OccurredAt: time.Now()},
		{Amount: decimal.NewFromInt(80000), Direction: domain.DirectionCredit, Category: "Salary", Description: "salary", BaseCurrency: "TWD", OccurredAt: time.Now()},
	}}
	p, mem := newTestPipeline(parser)

	raw, err := p.HandleParseText(context.Background(), parseJob(t, "lunch 250, salary 80000"))
	require.NoError(t, err)

	var result ParseResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 2, result.Entries)
	assert.Len(t, result.TransactionIDs, 2)

	// Both entries hit the ledger and the currency's cash account.
	txs, err := mem.ListTransactions(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	acct, err := mem.GetAccount(context.Background(), "alice", "Cash-TWD")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(79750)), "got %s", acct.Balance)
}

// Entries in different currencies must land in separate cash accounts; the
// magnitudes of unrelated units never share a balance.
func TestHandleParseText_MixedCurrenciesSplitAccounts(t *testing.T) {
	parser := &stubParser{txs: []*domain.Transaction{
		{Amount: decimal.NewFromInt(500), Direction: domain.DirectionCredit, Category: "Salary", Description: "bonus", BaseCurrency: "TWD", OccurredAt: time.Now()},
		{Amount: decimal.NewFromFloat(0.5), Direction: domain.DirectionCredit, Category: "Trade", Description: "transfer in", BaseCurrency: "BTC", OccurredAt: time.Now()},
	}}
	p, mem := newTestPipeline(parser)

	_, err := p.HandleParseText(context.Background(), parseJob(t, "bonus 500, received 0.5 btc"))
	require.NoError(t, err)

	twd, err := mem.GetAccount(context.Background(), "alice", "Cash-TWD")
	require.NoError(t, err)
	assert.True(t, twd.Balance.Equal(decimal.NewFromInt(500)), "got %s", twd.Balance)
	assert.Equal(t, "TWD", twd.Currency)

	btc, err := mem.GetAccount(context.Background(), "alice", "Cash-BTC")
	require.NoError(t, err)
	assert.True(t, btc.Balance.Equal(decimal.NewFromFloat(0.5)), "got %s", btc.Balance)
	assert.Equal(t, "BTC", btc.Currency)
}

func TestHandleParseText_ParserFailure(t *testing.T) {
	p, mem := newTestPipeline(&stubParser{err: errors.New("oracle down")})

	_, err := p.HandleParseText(context.Background(), parseJob(t, "whatever"))
	require.Error(t, err)

	txs, err := mem.ListTransactions(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestHandleParseText_EmptyText(t *testing.T) {
	p, _ := newTestPipeline(&stubParser{})
	_, err := p.HandleParseText(context.Background(), parseJob(t, ""))
	require.Error(t, err)
}

func receiptJob(t *testing.T, payload jobs.ParseReceiptPayload) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &jobs.Job{ID: "job-r", Kind: jobs.KindParseReceipt, OwnerID: "alice", Payload: raw}
}

func TestHandleParseReceipt(t *testing.T) {
	parser := &stubParser{txs: []*domain.Transaction{
		{Amount: decimal.NewFromInt(420), Direction: domain.DirectionDebit, Category: "Food", Description: "groceries", BaseCurrency: "TWD", OccurredAt: time.Now()},
	}}
	blobs := stubBlobs{"gs://uploads/receipts/r1.jpg": []byte("jpeg-bytes")}
	p, mem := newTestPipelineWithBlobs(parser, blobs)

	raw, err := p.HandleParseReceipt(context.Background(), receiptJob(t, jobs.ParseReceiptPayload{
		URI:      "gs://uploads/receipts/r1.jpg",
		MIMEType: "image/jpeg",
	}))
	require.NoError(t, err)

	var result ParseResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 1, result.Entries)

	// The fetched bytes and MIME type reach the vision parser.
	assert.Equal(t, []byte("jpeg-bytes"), parser.gotImage)
	assert.Equal(t, "image/jpeg", parser.gotMIME)

	acct, err := mem.GetAccount(context.Background(), "alice", "Cash-TWD")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(-420)), "got %s", acct.Balance)
}

func TestHandleParseReceipt_MissingBlob(t *testing.T) {
	p, mem := newTestPipelineWithBlobs(&stubParser{}, stubBlobs{})

	_, err := p.HandleParseReceipt(context.Background(), receiptJob(t, jobs.ParseReceiptPayload{
		URI: "gs://uploads/receipts/gone.jpg",
	}))
	require.Error(t, err)

	txs, err := mem.ListTransactions(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestHandleParseReceipt_NoBlobStore(t *testing.T) {
	p, _ := newTestPipeline(&stubParser{})

	_, err := p.HandleParseReceipt(context.Background(), receiptJob(t, jobs.ParseReceiptPayload{
		URI: "gs://uploads/receipts/r1.jpg",
	}))
	require.Error(t, err)
}

func TestHandleParseReceipt_EmptyURI(t *testing.T) {
	p, _ := newTestPipelineWithBlobs(&stubParser{}, stubBlobs{})
	_, err := p.HandleParseReceipt(context.Background(), receiptJob(t, jobs.ParseReceiptPayload{}))
	require.Error(t, err)
}

func importJob(t *testing.T, payload jobs.ImportRowPayload) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &jobs.Job{ID: "job-2", Kind: jobs.KindImportRow, OwnerID: "bob", Payload: raw}
}

func TestHandleImportRow_BuiltinMapping(t *testing.T) {
	p, mem := newTestPipeline(&stubParser{})

	raw, err := p.HandleImportRow(context.Background(), importJob(t, jobs.ImportRowPayload{
		FormatID: importer.FormatBitoPro,
		Row:      []string{"ord-1", "Completed", "buy", "BTC", "TWD", "1000000", "0.01", "10000", "2024-03-15 10:30:00"},
	}))
	require.NoError(t, err)

	var result ImportRowResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Skipped)
	assert.NotZero(t, result.TransactionID)

	txs, err := mem.ListTransactions(context.Background(), "bob", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "BTC", txs[0].BaseCurrency)
}

func TestHandleImportRow_CarriedMapping(t *testing.T) {
	p, mem := newTestPipeline(&stubParser{})

	mapping, err := json.Marshal(importer.ColumnMapping{
		DateCol: 0, SideCol: 1, SymbolCol: -1, BaseCol: 2, QuoteCol: -1,
		PriceCol: 3, QuantityCol: 4, AmountCol: -1, FeeCol: -1, StatusCol: -1,
		BuyWords: []string{"purchase"}, TimeLayouts: []string{"2006-01-02"},
	})
	require.NoError(t, err)

	raw, err := p.HandleImportRow(context.Background(), importJob(t, jobs.ImportRowPayload{
		FormatID: importer.FormatUnknown,
		Row:      []string{"2024-03-15", "purchase", "BTC", "1000000", "0.01"},
		Mapping:  mapping,
	}))
	require.NoError(t, err)

	var result ImportRowResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Skipped)

	txs, err := mem.ListTransactions(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestHandleImportRow_DroppedRowCompletes(t *testing.T) {
	p, mem := newTestPipeline(&stubParser{})

	raw, err := p.HandleImportRow(context.Background(), importJob(t, jobs.ImportRowPayload{
		FormatID: importer.FormatBitoPro,
		Row:      []string{"ord-1", "Cancelled", "buy", "BTC", "TWD", "1000000", "0.01", "10000", "2024-03-15 10:30:00"},
	}))
	require.NoError(t, err)

	var result ImportRowResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.Skipped)

	txs, err := mem.ListTransactions(context.Background(), "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestHandleImportRow_UnknownFormatWithoutMapping(t *testing.T) {
	p, _ := newTestPipeline(&stubParser{})

	_, err := p.HandleImportRow(context.Background(), importJob(t, jobs.ImportRowPayload{
		FormatID: importer.FormatUnknown,
		Row:      []string{"x"},
	}))
	require.Error(t, err)
}

// End-to-end through the worker: enqueue, lease, handle, complete.
func TestPipeline_ThroughWorker(t *testing.T) {
	p, mem := newTestPipeline(&stubParser{txs: []*domain.Transaction{
		{Amount: decimal.NewFromInt(100), Direction: domain.DirectionDebit, Category: "Food", Description: "snack", BaseCurrency: "TWD", OccurredAt: time.Now()},
	}})

	queue := inmemory.NewQueue()
	w := jobs.NewWorker(queue, 10*time.Millisecond, time.Second, logger.New())
	p.Register(w)

	payload, err := json.Marshal(jobs.ParseTextPayload{Text: "snack 100"})
	require.NoError(t, err)
	jobID, err := queue.Enqueue(context.Background(), jobs.KindParseText, "alice", payload)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		job, err := queue.Get(context.Background(), jobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	job, err := queue.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	txs, err := mem.ListTransactions(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
