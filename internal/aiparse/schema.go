package aiparse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/ledgerflow/internal/importer"
)

const schemaPrompt = `You are a CSV schema analyst. Given the header and first
rows of an exchange export, identify which column plays which role.

Output STRICT JSON only: a single object with these fields (zero-based column
indexes; use -1 for a role no column covers):
- "date_col", "side_col", "symbol_col", "base_col", "quote_col",
  "price_col", "quantity_col", "amount_col", "fee_col", "status_col": numbers
- "buy_words", "sell_words", "deposit_words", "withdraw_words": arrays of the
  exact lowercase values the side column uses for each meaning
- "time_layouts": array of Go time layouts matching the date column, e.g.
  "2006-01-02 15:04:05"

Return ONLY valid raw JSON. Do NOT wrap the response in code fences.
`

// inferredSchema mirrors importer.ColumnMapping with pointer columns so a
// field the model omitted is distinguishable from column zero.
type inferredSchema struct {
	DateCol     *int `json:"date_col"`
	SideCol     *int `json:"side_col"`
	SymbolCol   *int `json:"symbol_col"`
	BaseCol     *int `json:"base_col"`
	QuoteCol    *int `json:"quote_col"`
	PriceCol    *int `json:"price_col"`
	QuantityCol *int `json:"quantity_col"`
	AmountCol   *int `json:"amount_col"`
	FeeCol      *int `json:"fee_col"`
	StatusCol   *int `json:"status_col"`

	BuyWords      []string `json:"buy_words"`
	SellWords     []string `json:"sell_words"`
	DepositWords  []string `json:"deposit_words"`
	WithdrawWords []string `json:"withdraw_words"`

	TimeLayouts []string `json:"time_layouts"`
}

// InferSchema satisfies importer.SchemaInferrer: it hands an unknown CSV
// header plus sample rows to the model and validates the returned mapping
// before the importer trusts it.
func (c *Client) InferSchema(ctx context.Context, header []string, sample [][]string) (*importer.ColumnMapping, error) {
	var sb strings.Builder
	sb.WriteString(schemaPrompt)
	sb.WriteString("\nHeader: ")
	sb.WriteString(strings.Join(header, " | "))
	for i, row := range sample {
		fmt.Fprintf(&sb, "\nRow %d: %s", i+1, strings.Join(row, " | "))
	}

	raw, err := c.generate(ctx, sb.String(), nil)
	if err != nil {
		return nil, err
	}

	var inferred inferredSchema
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &inferred); err != nil {
		return nil, fmt.Errorf("aiparse: schema inference failed: %w (raw response: %.200s)", err, raw)
	}

	mapping, err := inferred.toMapping(len(header))
	if err != nil {
		return nil, fmt.Errorf("aiparse: schema inference failed: %w", err)
	}
	c.log.Info().Strs("header", header).Msg("inferred csv schema")
	return mapping, nil
}

func (s *inferredSchema) toMapping(columns int) (*importer.ColumnMapping, error) {
	mapping := &importer.ColumnMapping{
		DateCol:       col(s.DateCol),
		SideCol:       col(s.SideCol),
		SymbolCol:     col(s.SymbolCol),
		BaseCol:       col(s.BaseCol),
		QuoteCol:      col(s.QuoteCol),
		PriceCol:      col(s.PriceCol),
		QuantityCol:   col(s.QuantityCol),
		AmountCol:     col(s.AmountCol),
		FeeCol:        col(s.FeeCol),
		StatusCol:     col(s.StatusCol),
		BuyWords:      s.BuyWords,
		SellWords:     s.SellWords,
		DepositWords:  s.DepositWords,
		WithdrawWords: s.WithdrawWords,
		TimeLayouts:   s.TimeLayouts,
	}

	if mapping.DateCol < 0 || mapping.DateCol >= columns {
		return nil, fmt.Errorf("no usable date column (got %d of %d)", mapping.DateCol, columns)
	}
	if mapping.SideCol < 0 || mapping.SideCol >= columns {
		return nil, fmt.Errorf("no usable side column (got %d of %d)", mapping.SideCol, columns)
	}
	if mapping.BaseCol < 0 && mapping.SymbolCol < 0 {
		return nil, fmt.Errorf("neither base-currency nor symbol column identified")
	}
	if len(mapping.BuyWords)+len(mapping.SellWords)+
		len(mapping.DepositWords)+len(mapping.WithdrawWords) == 0 {
		return nil, fmt.Errorf("no side keywords identified")
	}
	return mapping, nil
}

func col(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
