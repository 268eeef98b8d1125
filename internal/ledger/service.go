package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/store"
)

// Service is the ledger write API: it validates a canonical transaction,
// appends it, and keeps the owning account's current balance in step.
// There are no partial writes at the caller level: a validation failure
// writes nothing.
type Service struct {
	transactions store.TransactionStore
	accounts     store.AccountStore
	log          zerolog.Logger
}

// NewService creates a ledger service on the given store handles.
func NewService(transactions store.TransactionStore, accounts store.AccountStore, log zerolog.Logger) *Service {
	return &Service{
		transactions: transactions,
		accounts:     accounts,
		log:          log,
	}
}

// WriteTransaction validates and appends one transaction. When accountName
// is non-empty the account balance is adjusted by the signed amount.
func (s *Service) WriteTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	id, err := s.transactions.InsertTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("ledger: insert transaction: %w", err)
	}
	tx.ID = id

	s.log.Debug().
		Int64("transaction_id", id).
		Str("owner_id", tx.OwnerID).
		Str("direction", string(tx.Direction)).
		Str("currency", tx.BaseCurrency).
		Msg("Transaction written")
	return nil
}

// ApplyToAccount adjusts the named account's balance by the transaction's
// signed amount, creating the account as Cash if it does not exist yet.
func (s *Service) ApplyToAccount(ctx context.Context, tx *domain.Transaction, accountName string) error {
	if accountName == "" {
		return fmt.Errorf("ledger: account name is required")
	}

	acct, err := s.accounts.GetAccount(ctx, tx.OwnerID, accountName)
	if errors.Is(err, store.ErrNotFound) {
		acct = &domain.Account{
			OwnerID:  tx.OwnerID,
			Name:     accountName,
			Kind:     domain.AccountKindCash,
			Balance:  decimal.Zero,
			Currency: tx.BaseCurrency,
		}
	} else if err != nil {
		return fmt.Errorf("ledger: load account: %w", err)
	}

	acct.Balance = acct.Balance.Add(tx.SignedAmount())
	if err := s.accounts.UpsertAccount(ctx, acct); err != nil {
		return fmt.Errorf("ledger: update account balance: %w", err)
	}
	return nil
}

// UpsertAccount validates and writes an account's current state directly.
// This is the manual-entry path for balances that do not flow through
// transactions (e.g. a brokerage statement total).
func (s *Service) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	if err := s.accounts.UpsertAccount(ctx, acct); err != nil {
		return fmt.Errorf("ledger: upsert account: %w", err)
	}
	return nil
}

// ListTransactions returns an owner's recent transactions.
func (s *Service) ListTransactions(ctx context.Context, ownerID string, limit int) ([]*domain.Transaction, error) {
	return s.transactions.ListTransactions(ctx, ownerID, limit)
}
