package importer

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledgerflow/internal/domain"
)

// quoteSuffixes are tried longest-first against merged pair strings like
// "BTCUSDT" or "ETHTWD" when a format does not provide base/quote pre-split.
var quoteSuffixes = []string{"USDT", "USDC", "TWD", "USD", "BTC", "ETH"}

// completedWords mark a status cell as final. Anything else is skipped.
var completedWords = []string{"completed", "complete", "done", "filled", "success", "executed"}

var fallbackTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
}

// SplitSymbol separates a merged trading pair into base and quote by stripping
// a known quote suffix. "BTCTWD" becomes ("BTC", "TWD"). When no suffix
// matches, the whole symbol is returned as base with an empty quote.
func SplitSymbol(symbol string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix), suffix
		}
	}
	return s, ""
}

// Normalize converts one CSV row into the canonical transaction shape using
// the given mapping. Rows with an unresolvable side and rows whose status is
// not final return (nil, nil): they are dropped, not failures. A malformed
// number or date is an error the caller records without aborting the batch.
func Normalize(row []string, mapping *ColumnMapping, ownerID string) (*domain.Transaction, error) {
	if mapping == nil {
		return nil, fmt.Errorf("normalize: nil column mapping")
	}

	status := cell(row, mapping.StatusCol)
	if status != "" && !isCompleted(status) {
		return nil, nil
	}

	side := strings.ToLower(cell(row, mapping.SideCol))
	direction, category := resolveSide(side, mapping)
	if direction == "" {
		return nil, nil
	}

	base := strings.ToUpper(cell(row, mapping.BaseCol))
	quote := strings.ToUpper(cell(row, mapping.QuoteCol))
	if base == "" {
		if symbol := cell(row, mapping.SymbolCol); symbol != "" {
			base, quote = SplitSymbol(symbol)
		}
	}
	if base == "" {
		return nil, fmt.Errorf("normalize: no base currency in row")
	}

	price, err := parseDecimal(cell(row, mapping.PriceCol))
	if err != nil {
		return nil, fmt.Errorf("normalize: price: %w", err)
	}
	quantity, err := parseDecimal(cell(row, mapping.QuantityCol))
	if err != nil {
		return nil, fmt.Errorf("normalize: quantity: %w", err)
	}
	// Some exports append the fee asset to the number ("0.00001BTC").
	fee, err := parseDecimal(strings.TrimRightFunc(cell(row, mapping.FeeCol), unicode.IsLetter))
	if err != nil {
		return nil, fmt.Errorf("normalize: fee: %w", err)
	}

	amount, err := parseDecimal(cell(row, mapping.AmountCol))
	if err != nil {
		return nil, fmt.Errorf("normalize: amount: %w", err)
	}
	if amount.IsZero() {
		amount = price.Mul(quantity)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("normalize: non-positive amount %s", amount)
	}

	occurredAt, err := parseTime(cell(row, mapping.DateCol), mapping.TimeLayouts)
	if err != nil {
		return nil, fmt.Errorf("normalize: date: %w", err)
	}

	desc := base
	if quote != "" {
		desc = base + "/" + quote
	}

	return &domain.Transaction{
		OwnerID:       ownerID,
		Amount:        amount,
		Direction:     direction,
		Category:      category,
		Description:   fmt.Sprintf("%s %s", side, desc),
		BaseCurrency:  base,
		QuoteCurrency: quote,
		UnitPrice:     price,
		Quantity:      quantity,
		Fee:           fee,
		OccurredAt:    occurredAt,
	}, nil
}

// resolveSide maps a side-column value to a direction and category. Buying or
// withdrawing moves value out of the quote account (debit); selling or
// depositing moves value in (credit). An empty direction means the side could
// not be classified.
func resolveSide(side string, mapping *ColumnMapping) (domain.Direction, string) {
	switch {
	case matchesAny(side, mapping.BuyWords):
		return domain.DirectionDebit, "Trade"
	case matchesAny(side, mapping.SellWords):
		return domain.DirectionCredit, "Trade"
	case matchesAny(side, mapping.DepositWords):
		return domain.DirectionCredit, "Transfer"
	case matchesAny(side, mapping.WithdrawWords):
		return domain.DirectionDebit, "Transfer"
	default:
		return "", ""
	}
}

func matchesAny(value string, words []string) bool {
	for _, w := range words {
		if value == strings.ToLower(w) {
			return true
		}
	}
	return false
}

func isCompleted(status string) bool {
	s := strings.ToLower(status)
	for _, w := range completedWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// cell returns the trimmed value at idx, tolerating ragged rows and absent
// columns (idx < 0).
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(s)
}

func parseTime(s string, layouts []string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date cell")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range fallbackTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
