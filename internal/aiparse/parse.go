package aiparse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/dvloznov/ledgerflow/internal/domain"
)

const parsePrompt = `You are a personal-finance parser. Extract every financial
event from the input and output STRICT JSON only (no comments, no extra text).

Output a JSON array of objects. Each object must have these fields:
- "amount": number (always positive)
- "direction": string, "credit" for money in, "debit" for money out
- "category": string (e.g. "Food", "Transport", "Salary", "Trade")
- "description": string
- "currency": string (ISO code or asset symbol, e.g. "USD", "TWD", "BTC")
- "date": string "YYYY-MM-DD" or null when the input gives no date
- "note": string or null

Rules:
- If the input mentions no currency, use "TWD".
- Spending, purchases and fees are "debit"; income and refunds are "credit".
- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.
`

// Entry is the loosely-typed shape the model returns. It is validated field
// by field before promotion to a domain.Transaction; the raw JSON is never
// trusted directly.
type Entry struct {
	Amount      float64 `json:"amount"`
	Direction   string  `json:"direction"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	Note        string  `json:"note"`
}

// ParseText asks the model to extract transactions from free-form text.
func (c *Client) ParseText(ctx context.Context, text, ownerID string) ([]*domain.Transaction, error) {
	raw, err := c.generate(ctx, parsePrompt+"\nInput:\n"+text, nil)
	if err != nil {
		return nil, err
	}
	return c.toTransactions(raw, ownerID)
}

// ParseReceipt extracts transactions from a receipt or statement image.
func (c *Client) ParseReceipt(ctx context.Context, image []byte, mimeType, ownerID string) ([]*domain.Transaction, error) {
	blob := &genai.Blob{MIMEType: mimeType, Data: image}
	raw, err := c.generate(ctx, parsePrompt+"\nInput: the attached image.", blob)
	if err != nil {
		return nil, err
	}
	return c.toTransactions(raw, ownerID)
}

func (c *Client) toTransactions(raw, ownerID string) ([]*domain.Transaction, error) {
	entries, err := decodeEntries(cleanModelJSON(raw))
	if err != nil {
		return nil, fmt.Errorf("aiparse: parse failed: %w (raw response: %.200s)", err, raw)
	}

	var txs []*domain.Transaction
	for i, e := range entries {
		tx, err := entryToTransaction(e, ownerID)
		if err != nil {
			c.log.Warn().Err(err).Int("entry", i).Msg("dropping non-conforming model entry")
			continue
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("aiparse: parse failed: no usable entries in model output")
	}
	return txs, nil
}

// decodeEntries accepts the two shapes the model actually produces: a JSON
// array of entries, or a single bare entry object.
func decodeEntries(clean string) ([]Entry, error) {
	var list []Entry
	if err := json.Unmarshal([]byte(clean), &list); err == nil {
		return list, nil
	}
	var single Entry
	if err := json.Unmarshal([]byte(clean), &single); err == nil {
		return []Entry{single}, nil
	}
	return nil, fmt.Errorf("model output is neither an entry array nor a single entry")
}

func entryToTransaction(e Entry, ownerID string) (*domain.Transaction, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("entry amount must be positive, got %v", e.Amount)
	}

	var direction domain.Direction
	switch strings.ToLower(e.Direction) {
	case "credit", "income":
		direction = domain.DirectionCredit
	case "debit", "expense", "":
		direction = domain.DirectionDebit
	default:
		return nil, fmt.Errorf("unknown direction %q", e.Direction)
	}

	currency := strings.ToUpper(strings.TrimSpace(e.Currency))
	if currency == "" {
		currency = "TWD"
	}

	occurredAt := time.Now().UTC()
	if e.Date != "" && e.Date != "null" {
		t, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return nil, fmt.Errorf("bad entry date %q", e.Date)
		}
		occurredAt = t
	}

	tx := &domain.Transaction{
		OwnerID:      ownerID,
		Amount:       decimal.NewFromFloat(e.Amount),
		Direction:    direction,
		Category:     e.Category,
		Description:  e.Description,
		BaseCurrency: currency,
		OccurredAt:   occurredAt,
		Note:         e.Note,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}
