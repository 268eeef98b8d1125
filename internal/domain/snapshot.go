package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// BalanceSnapshot is a point-in-time copy of one account balance, keyed by
// day. One row exists per (owner, account, date): a later capture for the same
// day replaces the earlier one, earlier days are immutable once written except
// that the backfill scanner may fill in a missing conversion rate. It never
// touches the balance.
type BalanceSnapshot struct {
	ID           int64
	OwnerID      string
	AccountName  string
	Balance      decimal.Decimal
	Currency     string
	SnapshotDate civil.Date

	// ConversionRate is the rate from Currency to the reference unit on
	// SnapshotDate. Zero means "not resolved yet".
	ConversionRate float64
}
