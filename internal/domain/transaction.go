package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether a transaction adds to or subtracts from an account.
type Direction string

const (
	// DirectionCredit represents money coming in.
	DirectionCredit Direction = "credit"
	// DirectionDebit represents money going out.
	DirectionDebit Direction = "debit"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Transaction is the canonical representation every input source (manual entry,
// AI-parsed text, exchange CSV row) is converted into before storage.
// Amounts and quantities are always stored positive; sign conventions are
// applied at read time based on Direction, never persisted as negative numbers.
type Transaction struct {
	ID          int64
	OwnerID     string
	Amount      decimal.Decimal
	Direction   Direction
	Category    string
	Description string

	// BaseCurrency is the asset the transaction is denominated in.
	// QuoteCurrency is set for exchange events (e.g. a BTC/TWD trade).
	BaseCurrency  string
	QuoteCurrency string

	UnitPrice decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal

	OccurredAt time.Time

	// RateToReference is the conversion rate from BaseCurrency to the
	// reference unit at OccurredAt. Zero means "not resolved yet"; the
	// backfill scanner fills it in later.
	RateToReference float64

	Note string
}

// Validate checks the invariants a transaction must hold before it is written.
func (t *Transaction) Validate() error {
	if t.OwnerID == "" {
		return fmt.Errorf("transaction: owner id is required")
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("transaction: invalid direction %q", t.Direction)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction: amount must be positive, got %s", t.Amount)
	}
	if t.Quantity.IsNegative() {
		return fmt.Errorf("transaction: quantity must not be negative, got %s", t.Quantity)
	}
	if t.BaseCurrency == "" {
		return fmt.Errorf("transaction: base currency is required")
	}
	return nil
}

// SignedAmount applies the direction sign convention: credits are positive,
// debits negative. This is a read-time view; the stored amount stays positive.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Symbol reconstructs the merged exchange pair string (e.g. "BTCTWD") from the
// base and quote currencies. For non-exchange transactions it is just the base.
func (t *Transaction) Symbol() string {
	return t.BaseCurrency + t.QuoteCurrency
}
