package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/store"
)

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use and is the substitute backend for tests and single-shot
// tooling; data is lost on process exit.
type Store struct {
	mu sync.RWMutex

	nextTxID   int64
	nextAcctID int64
	nextSnapID int64

	transactions []*domain.Transaction
	accounts     map[string]*domain.Account // key: ownerID + "\x00" + name
	snapshots    []*domain.BalanceSnapshot
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
	}
}

func acctKey(ownerID, name string) string {
	return ownerID + "\x00" + name
}

// InsertTransaction implements store.TransactionStore.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTxID++
	cp := *tx
	cp.ID = s.nextTxID
	s.transactions = append(s.transactions, &cp)
	return cp.ID, nil
}

// ListTransactions implements store.TransactionStore.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].OwnerID != ownerID {
			continue
		}
		cp := *s.transactions[i]
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListTransactionsMissingRate implements store.TransactionStore.
func (s *Store) ListTransactionsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludeCurrencies)
	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.RateToReference != 0 || excluded[tx.BaseCurrency] {
			continue
		}
		cp := *tx
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListTransactionsRatedSince implements store.TransactionStore.
func (s *Store) ListTransactionsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludeCurrencies)
	var result []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.RateToReference == 0 || excluded[tx.BaseCurrency] {
			continue
		}
		if civil.DateOf(tx.OccurredAt).Before(since) {
			continue
		}
		cp := *tx
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SetTransactionRate implements store.TransactionStore.
func (s *Store) SetTransactionRate(ctx context.Context, id int64, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.ID == id {
			tx.RateToReference = rate
			return nil
		}
	}
	return store.ErrNotFound
}

// UpsertAccount implements store.AccountStore.
func (s *Store) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := acctKey(acct.OwnerID, acct.Name)
	cp := *acct
	if existing, ok := s.accounts[key]; ok {
		cp.ID = existing.ID
	} else {
		s.nextAcctID++
		cp.ID = s.nextAcctID
	}
	cp.LastUpdatedAt = time.Now()
	s.accounts[key] = &cp
	return nil
}

// GetAccount implements store.AccountStore.
func (s *Store) GetAccount(ctx context.Context, ownerID, name string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[acctKey(ownerID, name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// ListAccounts implements store.AccountStore.
func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Account
	for _, acct := range s.accounts {
		if acct.OwnerID != ownerID {
			continue
		}
		cp := *acct
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ReplaceSnapshots implements store.SnapshotStore.
func (s *Store) ReplaceSnapshots(ctx context.Context, ownerID string, date civil.Date, snaps []*domain.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.snapshots[:0]
	for _, snap := range s.snapshots {
		if snap.OwnerID == ownerID && snap.SnapshotDate == date {
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept

	for _, snap := range snaps {
		s.nextSnapID++
		cp := *snap
		cp.ID = s.nextSnapID
		cp.OwnerID = ownerID
		cp.SnapshotDate = date
		s.snapshots = append(s.snapshots, &cp)
	}
	return nil
}

// ListSnapshotRange implements store.SnapshotStore.
func (s *Store) ListSnapshotRange(ctx context.Context, ownerID string, from, to civil.Date) ([]*domain.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.OwnerID != ownerID {
			continue
		}
		if snap.SnapshotDate.Before(from) || snap.SnapshotDate.After(to) {
			continue
		}
		cp := *snap
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SnapshotDate.Before(result[j].SnapshotDate)
	})
	return result, nil
}

// ListSnapshotsMissingRate implements store.SnapshotStore.
func (s *Store) ListSnapshotsMissingRate(ctx context.Context, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludeCurrencies)
	var result []*domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.ConversionRate != 0 || excluded[snap.Currency] {
			continue
		}
		cp := *snap
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListSnapshotsRatedSince implements store.SnapshotStore.
func (s *Store) ListSnapshotsRatedSince(ctx context.Context, since civil.Date, excludeCurrencies []string, limit int) ([]*domain.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(excludeCurrencies)
	var result []*domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.ConversionRate == 0 || excluded[snap.Currency] {
			continue
		}
		if snap.SnapshotDate.Before(since) {
			continue
		}
		cp := *snap
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SetSnapshotRate implements store.SnapshotStore.
func (s *Store) SetSnapshotRate(ctx context.Context, id int64, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range s.snapshots {
		if snap.ID == id {
			snap.ConversionRate = rate
			return nil
		}
	}
	return store.ErrNotFound
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Ensure Store implements the full store interface.
var _ store.Store = (*Store)(nil)
