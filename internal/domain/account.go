package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind classifies what an account holds.
type AccountKind string

const (
	AccountKindCash       AccountKind = "Cash"
	AccountKindInvestment AccountKind = "Investment"
	AccountKindLiability  AccountKind = "Liability"
	AccountKindStock      AccountKind = "Stock"
	AccountKindBond       AccountKind = "Bond"
)

// Valid reports whether k is one of the known account kinds.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindCash, AccountKindInvestment, AccountKindLiability, AccountKindStock, AccountKindBond:
		return true
	}
	return false
}

// IsLiability reports whether balances of this kind subtract from net worth.
func (k AccountKind) IsLiability() bool {
	return k == AccountKindLiability
}

// Account is the single mutable source of truth for current state. It is
// mutated by upserts keyed on (OwnerID, Name); history lives in
// BalanceSnapshot, not here.
type Account struct {
	ID       int64
	OwnerID  string
	Name     string
	Kind     AccountKind
	Balance  decimal.Decimal
	Currency string

	// Symbol and Quantity are set for priced instruments (stocks, bonds)
	// where the balance is derived from quantity times market price.
	Symbol   string
	Quantity decimal.Decimal

	LastUpdatedAt time.Time
}

// Validate checks the invariants an account must hold before it is written.
func (a *Account) Validate() error {
	if a.OwnerID == "" {
		return fmt.Errorf("account: owner id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("account: name is required")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("account: invalid kind %q", a.Kind)
	}
	if a.Currency == "" {
		return fmt.Errorf("account: currency unit is required")
	}
	return nil
}
