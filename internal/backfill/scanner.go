package backfill

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerflow/internal/store"
)

// RateSource is the slice of the rate resolver the scanner needs. The
// resolver throttles external calls itself, so the scanner never sleeps.
type RateSource interface {
	RateToReference(ctx context.Context, currency string, asOf *civil.Date) (float64, error)
	PeggedCurrencies() []string

	// Resolvable distinguishes currencies with an authoritative source
	// from ones RateToReference merely defaults to 1.0 for display. The
	// scanner never persists a defaulted rate.
	Resolvable(currency string) bool
}

// Summary reports what one scan pass did.
type Summary struct {
	Scanned    int
	Resolved   int
	Unresolved int
}

// Scanner finds persisted records whose conversion rate is still zero and
// resolves them using each record's own date. Unresolved candidates are left
// untouched for the next pass; the scan is bounded by a row limit and a
// wall-clock budget so it can run on a schedule until the backlog drains.
type Scanner struct {
	transactions store.TransactionStore
	snapshots    store.SnapshotStore
	rates        RateSource
	rowLimit     int
	budget       time.Duration
	log          zerolog.Logger
}

func NewScanner(transactions store.TransactionStore, snapshots store.SnapshotStore, rates RateSource, rowLimit int, budget time.Duration, log zerolog.Logger) *Scanner {
	if rowLimit <= 0 {
		rowLimit = 50
	}
	if budget <= 0 {
		budget = 4 * time.Minute
	}
	return &Scanner{
		transactions: transactions,
		snapshots:    snapshots,
		rates:        rates,
		rowLimit:     rowLimit,
		budget:       budget,
		log:          log.With().Str("component", "backfill").Logger(),
	}
}

// Run performs one bounded scan over transactions, then snapshots. The row
// limit is shared across both so a large transaction backlog cannot starve
// snapshot backfill forever, it just delays it to later passes.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	deadline := time.Now().Add(s.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	summary := &Summary{}
	exclude := s.rates.PeggedCurrencies()

	txs, err := s.transactions.ListTransactionsMissingRate(ctx, exclude, s.rowLimit)
	if err != nil {
		return summary, err
	}
	for _, tx := range txs {
		if time.Now().After(deadline) {
			break
		}
		summary.Scanned++
		if !s.rates.Resolvable(tx.BaseCurrency) {
			summary.Unresolved++
			continue
		}
		date := civil.DateOf(tx.OccurredAt)
		rate, err := s.rates.RateToReference(ctx, tx.BaseCurrency, &date)
		if err != nil || rate <= 0 {
			summary.Unresolved++
			continue
		}
		if err := s.transactions.SetTransactionRate(ctx, tx.ID, rate); err != nil {
			return summary, err
		}
		summary.Resolved++
	}

	remaining := s.rowLimit - summary.Scanned
	if remaining > 0 && time.Now().Before(deadline) {
		snaps, err := s.snapshots.ListSnapshotsMissingRate(ctx, exclude, remaining)
		if err != nil {
			return summary, err
		}
		for _, snap := range snaps {
			if time.Now().After(deadline) {
				break
			}
			summary.Scanned++
			if !s.rates.Resolvable(snap.Currency) {
				summary.Unresolved++
				continue
			}
			date := snap.SnapshotDate
			rate, err := s.rates.RateToReference(ctx, snap.Currency, &date)
			if err != nil || rate <= 0 {
				summary.Unresolved++
				continue
			}
			if err := s.snapshots.SetSnapshotRate(ctx, snap.ID, rate); err != nil {
				return summary, err
			}
			summary.Resolved++
		}
	}

	s.log.Info().
		Int("scanned", summary.Scanned).
		Int("resolved", summary.Resolved).
		Int("unresolved", summary.Unresolved).
		Msg("backfill pass finished")
	return summary, nil
}

// Sweep re-resolves conversion rates on records from the trailing window. A
// record resolved on the day it occurred got the provider's live intraday
// figure; once that day has closed the historical figure is final, so the
// sweep refreshes recent rows with the record-date rate. Rows the resolver
// has no authoritative source for are skipped, and a failed lookup keeps the
// stored rate. Bounded by the same row limit and wall-clock budget as Run.
func (s *Scanner) Sweep(ctx context.Context, window time.Duration) (*Summary, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	deadline := time.Now().Add(s.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	summary := &Summary{}
	exclude := s.rates.PeggedCurrencies()
	since := civil.DateOf(time.Now().Add(-window))

	txs, err := s.transactions.ListTransactionsRatedSince(ctx, since, exclude, s.rowLimit)
	if err != nil {
		return summary, err
	}
	for _, tx := range txs {
		if time.Now().After(deadline) {
			break
		}
		summary.Scanned++
		if !s.rates.Resolvable(tx.BaseCurrency) {
			summary.Unresolved++
			continue
		}
		date := civil.DateOf(tx.OccurredAt)
		rate, err := s.rates.RateToReference(ctx, tx.BaseCurrency, &date)
		if err != nil || rate <= 0 {
			summary.Unresolved++
			continue
		}
		if rate != tx.RateToReference {
			if err := s.transactions.SetTransactionRate(ctx, tx.ID, rate); err != nil {
				return summary, err
			}
		}
		summary.Resolved++
	}

	remaining := s.rowLimit - summary.Scanned
	if remaining > 0 && time.Now().Before(deadline) {
		snaps, err := s.snapshots.ListSnapshotsRatedSince(ctx, since, exclude, remaining)
		if err != nil {
			return summary, err
		}
		for _, snap := range snaps {
			if time.Now().After(deadline) {
				break
			}
			summary.Scanned++
			if !s.rates.Resolvable(snap.Currency) {
				summary.Unresolved++
				continue
			}
			date := snap.SnapshotDate
			rate, err := s.rates.RateToReference(ctx, snap.Currency, &date)
			if err != nil || rate <= 0 {
				summary.Unresolved++
				continue
			}
			if rate != snap.ConversionRate {
				if err := s.snapshots.SetSnapshotRate(ctx, snap.ID, rate); err != nil {
					return summary, err
				}
			}
			summary.Resolved++
		}
	}

	s.log.Info().
		Str("since", since.String()).
		Int("scanned", summary.Scanned).
		Int("resolved", summary.Resolved).
		Int("unresolved", summary.Unresolved).
		Msg("stale-rate sweep finished")
	return summary, nil
}
