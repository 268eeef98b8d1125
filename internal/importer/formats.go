package importer

import "strings"

// Known exchange export formats. Unknown triggers AI schema inference.
const (
	FormatBitoPro = "bitopro"
	FormatBinance = "binance"
	FormatMax     = "max"
	FormatUnknown = "unknown"
)

// DetectFormat classifies a CSV header as one of the known exchange layouts by
// looking for column-name tokens unique to each export. Returns FormatUnknown
// when no signature matches.
func DetectFormat(header []string) string {
	joined := strings.ToLower(strings.Join(header, "|"))

	switch {
	case strings.Contains(joined, "base currency") && strings.Contains(joined, "executed price"):
		return FormatBitoPro
	case strings.Contains(joined, "pair") && strings.Contains(joined, "executed"):
		return FormatBinance
	case strings.Contains(joined, "market") && strings.Contains(joined, "volume"):
		return FormatMax
	default:
		return FormatUnknown
	}
}

// BuiltinMapping returns the hand-written column mapping for a known format,
// or nil when the format has no builtin and needs inference.
func BuiltinMapping(formatID string) *ColumnMapping {
	switch formatID {
	case FormatBitoPro:
		// Order ID, Status, Order Type, Base Currency, Quote Currency,
		// Executed Price, Executed Quantity, Executed Amount, Transaction Time
		return &ColumnMapping{
			DateCol:     8,
			SideCol:     2,
			SymbolCol:   -1,
			BaseCol:     3,
			QuoteCol:    4,
			PriceCol:    5,
			QuantityCol: 6,
			AmountCol:   7,
			FeeCol:      -1,
			StatusCol:   1,
			BuyWords:    []string{"buy", "limit_buy", "market_buy"},
			SellWords:   []string{"sell", "limit_sell", "market_sell"},
			TimeLayouts: []string{"2006-01-02 15:04:05", "2006/01/02 15:04:05"},
		}
	case FormatBinance:
		// Date(UTC), Pair, Side, Price, Executed, Amount, Fee
		return &ColumnMapping{
			DateCol:     0,
			SideCol:     2,
			SymbolCol:   1,
			BaseCol:     -1,
			QuoteCol:    -1,
			PriceCol:    3,
			QuantityCol: 4,
			AmountCol:   5,
			FeeCol:      6,
			StatusCol:   -1,
			BuyWords:    []string{"buy"},
			SellWords:   []string{"sell"},
			TimeLayouts: []string{"2006-01-02 15:04:05"},
		}
	case FormatMax:
		// Time, Market, Side, Price, Volume, Fee, State
		return &ColumnMapping{
			DateCol:       0,
			SideCol:       2,
			SymbolCol:     1,
			BaseCol:       -1,
			QuoteCol:      -1,
			PriceCol:      3,
			QuantityCol:   4,
			AmountCol:     -1,
			FeeCol:        5,
			StatusCol:     6,
			BuyWords:      []string{"buy", "bid"},
			SellWords:     []string{"sell", "ask"},
			DepositWords:  []string{"deposit"},
			WithdrawWords: []string{"withdraw", "withdrawal"},
			TimeLayouts:   []string{"2006-01-02 15:04:05", "01/02/2006 15:04"},
		}
	default:
		return nil
	}
}
