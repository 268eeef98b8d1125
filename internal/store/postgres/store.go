package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is the Postgres implementation of store.Store, backed by a pgx pool.
// It is the single shared mutable resource; all cross-worker coordination is
// expressed as transactions against it.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the given DSN and verifies the connection.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool (shared with the job queue).
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool so the job queue can share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema applies the embedded schema. Every statement is idempotent, so
// this is safe to run on every deploy.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// InsertTransaction implements store.TransactionStore.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			owner_id, amount, direction, category, description,
			base_currency, quote_currency, unit_price, quantity, fee,
			occurred_at, rate_to_reference, note
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		tx.OwnerID, tx.Amount, string(tx.Direction), tx.Category, tx.Description,
		tx.BaseCurrency, tx.QuoteCurrency, tx.UnitPrice, tx.Quantity, tx.Fee,
		tx.OccurredAt, tx.RateToReference, tx.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return id, nil
}

const transactionColumns = `
	id, owner_id, amount, direction, category, description,
	base_currency, quote_currency, unit_price, quantity, fee,
	occurred_at, rate_to_reference, note`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var direction string
	err := row.Scan(
		&tx.ID, &tx.OwnerID, &tx.Amount, &direction, &tx.Category, &tx.Description,
		&tx.BaseCurrency, &tx.QuoteCurrency, &tx.UnitPrice, &tx.Quantity, &tx.Fee,
		&tx.OccurredAt, &tx.RateToReference, &tx.Note,
	)
	if err != nil {
		return nil, err
	}
	tx.Direction = domain.Direction(direction)
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()
	var result []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// ListTransactions implements store.TransactionStore.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListTransactionsMissingRate implements store.TransactionStore.
func (s *Store) ListTransactionsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE rate_to_reference = 0
		  AND NOT (base_currency = ANY($1))
		ORDER BY id
		LIMIT $2`, excludeCurrencies, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions missing rate: %w", err)
	}
	return collectTransactions(rows)
}

// ListTransactionsRatedSince implements store.TransactionStore.
func (s *Store) ListTransactionsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE rate_to_reference <> 0
		  AND occurred_at >= $1
		  AND NOT (base_currency = ANY($2))
		ORDER BY id
		LIMIT $3`, since.In(time.UTC), excludeCurrencies, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions rated since: %w", err)
	}
	return collectTransactions(rows)
}

// SetTransactionRate implements store.TransactionStore.
func (s *Store) SetTransactionRate(ctx context.Context, id int64, rate float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET rate_to_reference = $2 WHERE id = $1`, id, rate)
	if err != nil {
		return fmt.Errorf("postgres: set transaction rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertAccount implements store.AccountStore.
func (s *Store) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (owner_id, name, kind, balance, currency_unit, symbol, quantity, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (owner_id, name) DO UPDATE SET
			kind = EXCLUDED.kind,
			balance = EXCLUDED.balance,
			currency_unit = EXCLUDED.currency_unit,
			symbol = EXCLUDED.symbol,
			quantity = EXCLUDED.quantity,
			last_updated_at = now()`,
		acct.OwnerID, acct.Name, string(acct.Kind), acct.Balance, acct.Currency, acct.Symbol, acct.Quantity,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acct domain.Account
	var kind string
	err := row.Scan(
		&acct.ID, &acct.OwnerID, &acct.Name, &kind, &acct.Balance,
		&acct.Currency, &acct.Symbol, &acct.Quantity, &acct.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Kind = domain.AccountKind(kind)
	return &acct, nil
}

// GetAccount implements store.AccountStore.
func (s *Store) GetAccount(ctx context.Context, ownerID, name string) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, kind, balance, currency_unit, symbol, quantity, last_updated_at
		FROM accounts
		WHERE owner_id = $1 AND name = $2`, ownerID, name)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get account: %w", err)
	}
	return acct, nil
}

// ListAccounts implements store.AccountStore.
func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, kind, balance, currency_unit, symbol, quantity, last_updated_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var result []*domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

// ReplaceSnapshots implements store.SnapshotStore. The delete and inserts run
// in one transaction so a same-day re-capture can never leave partial state.
func (s *Store) ReplaceSnapshots(ctx context.Context, ownerID string, date civil.Date, snaps []*domain.BalanceSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace snapshots: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	day := date.In(time.UTC)
	if _, err := tx.Exec(ctx,
		`DELETE FROM balance_snapshots WHERE owner_id = $1 AND snapshot_date = $2`,
		ownerID, day); err != nil {
		return fmt.Errorf("postgres: delete snapshots: %w", err)
	}

	for _, snap := range snaps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO balance_snapshots (owner_id, account_name, balance, currency_unit, snapshot_date, conversion_rate)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ownerID, snap.AccountName, snap.Balance, snap.Currency, day, snap.ConversionRate,
		); err != nil {
			return fmt.Errorf("postgres: insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	var day time.Time
	err := row.Scan(
		&snap.ID, &snap.OwnerID, &snap.AccountName, &snap.Balance,
		&snap.Currency, &day, &snap.ConversionRate,
	)
	if err != nil {
		return nil, err
	}
	snap.SnapshotDate = civil.DateOf(day)
	return &snap, nil
}

func collectSnapshots(rows pgx.Rows) ([]*domain.BalanceSnapshot, error) {
	defer rows.Close()
	var result []*domain.BalanceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

// ListSnapshotRange implements store.SnapshotStore.
func (s *Store) ListSnapshotRange(ctx context.Context, ownerID string, from, to civil.Date) ([]*domain.BalanceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, account_name, balance, currency_unit, snapshot_date, conversion_rate
		FROM balance_snapshots
		WHERE owner_id = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date, account_name`,
		ownerID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshot range: %w", err)
	}
	return collectSnapshots(rows)
}

// ListSnapshotsMissingRate implements store.SnapshotStore.
func (s *Store) ListSnapshotsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, account_name, balance, currency_unit, snapshot_date, conversion_rate
		FROM balance_snapshots
		WHERE conversion_rate = 0
		  AND NOT (currency_unit = ANY($1))
		ORDER BY id
		LIMIT $2`, excludeCurrencies, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots missing rate: %w", err)
	}
	return collectSnapshots(rows)
}

// ListSnapshotsRatedSince implements store.SnapshotStore.
func (s *Store) ListSnapshotsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, account_name, balance, currency_unit, snapshot_date, conversion_rate
		FROM balance_snapshots
		WHERE conversion_rate <> 0
		  AND snapshot_date >= $1
		  AND NOT (currency_unit = ANY($2))
		ORDER BY id
		LIMIT $3`, since.In(time.UTC), excludeCurrencies, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rated since: %w", err)
	}
	return collectSnapshots(rows)
}

// SetSnapshotRate implements store.SnapshotStore.
func (s *Store) SetSnapshotRate(ctx context.Context, id int64, rate float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE balance_snapshots SET conversion_rate = $2 WHERE id = $1`, id, rate)
	if err != nil {
		return fmt.Errorf("postgres: set snapshot rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ensure Store implements the full store interface.
var _ store.Store = (*Store)(nil)
