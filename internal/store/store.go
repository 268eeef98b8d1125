package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledgerflow/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TransactionStore persists canonical transactions. Inserts are append-only;
// the only permitted mutation is filling in a missing conversion rate.
type TransactionStore interface {
	// InsertTransaction appends one transaction and returns its id.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error)

	// ListTransactions returns an owner's transactions, newest first.
	ListTransactions(ctx context.Context, ownerID string, limit int) ([]*domain.Transaction, error)

	// ListTransactionsMissingRate returns up to limit transactions whose
	// conversion rate is still zero, excluding the given currencies.
	ListTransactionsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.Transaction, error)

	// ListTransactionsRatedSince returns up to limit transactions that
	// occurred on or after since and already carry a nonzero conversion
	// rate, excluding the given currencies. Zero-rate rows are the
	// backfill scan's candidates, not the sweep's.
	ListTransactionsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.Transaction, error)

	// SetTransactionRate fills in the conversion rate for one transaction.
	SetTransactionRate(ctx context.Context, id int64, rate float64) error
}

// AccountStore persists current-truth account balances.
type AccountStore interface {
	// UpsertAccount inserts or updates the account keyed on (owner, name).
	UpsertAccount(ctx context.Context, acct *domain.Account) error

	// GetAccount fetches one account by its natural key.
	GetAccount(ctx context.Context, ownerID, name string) (*domain.Account, error)

	// ListAccounts returns all accounts for an owner.
	ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error)
}

// SnapshotStore persists day-keyed balance history.
type SnapshotStore interface {
	// ReplaceSnapshots atomically deletes any existing rows for
	// (owner, date) and inserts the given ones, making same-day capture
	// replay-safe.
	ReplaceSnapshots(ctx context.Context, ownerID string, date civil.Date, snaps []*domain.BalanceSnapshot) error

	// ListSnapshotRange returns snapshots within [from, to] for an owner.
	ListSnapshotRange(ctx context.Context, ownerID string, from, to civil.Date) ([]*domain.BalanceSnapshot, error)

	// ListSnapshotsMissingRate returns up to limit snapshots whose
	// conversion rate is still zero, excluding the given currencies.
	ListSnapshotsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error)

	// ListSnapshotsRatedSince returns up to limit snapshots dated on or
	// after since that already carry a nonzero conversion rate, excluding
	// the given currencies.
	ListSnapshotsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error)

	// SetSnapshotRate fills in the conversion rate for one snapshot.
	SetSnapshotRate(ctx context.Context, id int64, rate float64) error
}

// Store bundles the persistence interfaces a component may depend on. Passing
// the explicit handle into constructors keeps every component substitutable
// with the in-memory implementation in tests.
type Store interface {
	TransactionStore
	AccountStore
	SnapshotStore
}
