package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledgerflow/internal/domain"
	"github.com/dvloznov/ledgerflow/internal/store"
)

// RateSource is the slice of the rate resolver the aggregator needs.
type RateSource interface {
	RateToReference(ctx context.Context, currency string, asOf *civil.Date) (float64, error)
}

// CurrencyTotal breaks one currency's balances down into assets and
// liabilities, with the net converted to the reference unit.
type CurrencyTotal struct {
	Currency    string          `json:"currency"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	Net         decimal.Decimal `json:"net"`
	Rate        float64         `json:"rate_to_reference"`
	NetInRef    decimal.Decimal `json:"net_in_reference"`
}

// NetWorth is the derived per-currency and global view of an owner's current
// balances. It is computed on demand and never persisted.
type NetWorth struct {
	PerCurrency []CurrencyTotal            `json:"per_currency"`
	ByKind      map[string]decimal.Decimal `json:"by_kind"`
	GlobalInRef decimal.Decimal            `json:"global_in_reference"`
	Reference   string                     `json:"reference_currency"`
}

// TrendPoint is one day of the history series, with every currency converted
// to the reference unit.
type TrendPoint struct {
	Date       civil.Date      `json:"date"`
	TotalInRef decimal.Decimal `json:"total_in_reference"`
}

// Aggregator recomputes net worth from current account balances and records
// day-keyed history snapshots.
type Aggregator struct {
	accounts  store.AccountStore
	snapshots store.SnapshotStore
	rates     RateSource
	reference string
	log       zerolog.Logger
}

func NewAggregator(accounts store.AccountStore, snapshots store.SnapshotStore, rates RateSource, reference string, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		accounts:  accounts,
		snapshots: snapshots,
		rates:     rates,
		reference: reference,
		log:       log.With().Str("component", "snapshot").Logger(),
	}
}

// ComputeNetWorth groups current balances by currency and kind, sums assets
// and liabilities separately, and converts every currency total to the
// reference unit via the live rate.
func (a *Aggregator) ComputeNetWorth(ctx context.Context, ownerID string) (*NetWorth, error) {
	accounts, err := a.accounts.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list accounts: %w", err)
	}

	totals := make(map[string]*CurrencyTotal)
	byKind := make(map[string]decimal.Decimal)
	for _, acct := range accounts {
		t, ok := totals[acct.Currency]
		if !ok {
			t = &CurrencyTotal{Currency: acct.Currency}
			totals[acct.Currency] = t
		}
		if acct.Kind.IsLiability() {
			t.Liabilities = t.Liabilities.Add(acct.Balance)
		} else {
			t.Assets = t.Assets.Add(acct.Balance)
			byKind[string(acct.Kind)] = byKind[string(acct.Kind)].Add(acct.Balance)
		}
	}

	result := &NetWorth{ByKind: byKind, Reference: a.reference}
	for _, t := range totals {
		t.Net = t.Assets.Sub(t.Liabilities)

		rate, err := a.rates.RateToReference(ctx, t.Currency, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: rate for %s: %w", t.Currency, err)
		}
		t.Rate = rate
		t.NetInRef = t.Net.Mul(decimal.NewFromFloat(rate))

		result.PerCurrency = append(result.PerCurrency, *t)
		result.GlobalInRef = result.GlobalInRef.Add(t.NetInRef)
	}
	sort.Slice(result.PerCurrency, func(i, j int) bool {
		return result.PerCurrency[i].Currency < result.PerCurrency[j].Currency
	})
	return result, nil
}

// CaptureSnapshot records every current account balance under the given date
// (today when zero). Re-running for the same day replaces that day's rows, so
// the operation is replay-safe; earlier days are never touched.
func (a *Aggregator) CaptureSnapshot(ctx context.Context, ownerID string, date civil.Date) error {
	if !date.IsValid() {
		date = civil.DateOf(time.Now().UTC())
	}

	accounts, err := a.accounts.ListAccounts(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("snapshot: list accounts: %w", err)
	}

	snaps := make([]*domain.BalanceSnapshot, 0, len(accounts))
	for _, acct := range accounts {
		snap := &domain.BalanceSnapshot{
			OwnerID:      ownerID,
			AccountName:  acct.Name,
			Balance:      acct.Balance,
			Currency:     acct.Currency,
			SnapshotDate: date,
		}
		// Best effort: a missing rate is left at zero for the backfill
		// scanner rather than failing the capture.
		if rate, err := a.rates.RateToReference(ctx, acct.Currency, &date); err == nil {
			snap.ConversionRate = rate
		}
		snaps = append(snaps, snap)
	}

	if err := a.snapshots.ReplaceSnapshots(ctx, ownerID, date, snaps); err != nil {
		return fmt.Errorf("snapshot: replace for %s: %w", date, err)
	}
	a.log.Info().Str("owner", ownerID).Str("date", date.String()).Int("accounts", len(snaps)).Msg("captured balance snapshot")
	return nil
}

// HistoryTrend returns the date-ordered net-worth series within [from, to].
// Conversion uses the live rate, since per-day historical rates are not
// guaranteed present at read time.
func (a *Aggregator) HistoryTrend(ctx context.Context, ownerID string, from, to civil.Date) ([]TrendPoint, error) {
	snaps, err := a.snapshots.ListSnapshotRange(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list range: %w", err)
	}

	rateFor := make(map[string]float64)
	byDate := make(map[civil.Date]decimal.Decimal)
	for _, snap := range snaps {
		rate, ok := rateFor[snap.Currency]
		if !ok {
			rate, err = a.rates.RateToReference(ctx, snap.Currency, nil)
			if err != nil {
				return nil, fmt.Errorf("snapshot: rate for %s: %w", snap.Currency, err)
			}
			rateFor[snap.Currency] = rate
		}
		byDate[snap.SnapshotDate] = byDate[snap.SnapshotDate].Add(snap.Balance.Mul(decimal.NewFromFloat(rate)))
	}

	points := make([]TrendPoint, 0, len(byDate))
	for date, total := range byDate {
		points = append(points, TrendPoint{Date: date, TotalInRef: total})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points, nil
}
