package importer

import (
	"context"

	"github.com/dvloznov/ledgerflow/internal/domain"
)

// ColumnMapping describes which column plays which role in an exchange CSV
// export. Indexes are zero-based; -1 marks a column as absent. The word lists
// classify the side column's values, since every exchange names its order
// types differently.
type ColumnMapping struct {
	DateCol     int `json:"date_col"`
	SideCol     int `json:"side_col"`
	SymbolCol   int `json:"symbol_col"`
	BaseCol     int `json:"base_col"`
	QuoteCol    int `json:"quote_col"`
	PriceCol    int `json:"price_col"`
	QuantityCol int `json:"quantity_col"`
	AmountCol   int `json:"amount_col"`
	FeeCol      int `json:"fee_col"`
	StatusCol   int `json:"status_col"`

	BuyWords      []string `json:"buy_words"`
	SellWords     []string `json:"sell_words"`
	DepositWords  []string `json:"deposit_words"`
	WithdrawWords []string `json:"withdraw_words"`

	// TimeLayouts are tried in order when parsing the date column.
	TimeLayouts []string `json:"time_layouts"`
}

// emptyMapping returns a mapping with every column marked absent, so partial
// inference results never point at column zero by accident.
func emptyMapping() *ColumnMapping {
	return &ColumnMapping{
		DateCol:     -1,
		SideCol:     -1,
		SymbolCol:   -1,
		BaseCol:     -1,
		QuoteCol:    -1,
		PriceCol:    -1,
		QuantityCol: -1,
		AmountCol:   -1,
		FeeCol:      -1,
		StatusCol:   -1,
	}
}

// SchemaInferrer maps an unknown CSV header plus a few sample rows to a
// ColumnMapping. The AI parse client implements this.
type SchemaInferrer interface {
	InferSchema(ctx context.Context, header []string, sample [][]string) (*ColumnMapping, error)
}

// TransactionWriter persists normalized transactions.
type TransactionWriter interface {
	WriteTransaction(ctx context.Context, tx *domain.Transaction) error
}
