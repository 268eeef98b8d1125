package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrRateUnavailable is returned when no live or historical rate could be
// resolved for a currency. Callers must treat this as "still missing" and
// leave any stored rate at zero so a later backfill pass can retry.
var ErrRateUnavailable = errors.New("rates: rate unavailable")

// PriceSource is the external price oracle: an asset identifier in, a price
// in the reference fiat out, or absence of data.
type PriceSource interface {
	// Price returns the current price of the asset in the reference fiat.
	Price(ctx context.Context, assetID string) (float64, error)

	// HistoricalPrice returns the asset's price on the given past date.
	HistoricalPrice(ctx context.Context, assetID string, date civil.Date) (float64, error)
}

// assetIDs maps volatile-asset currency codes to the price provider's
// identifiers. Currencies outside this map never cost an external call.
var assetIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
	"LINK": "chainlink",
}

// staticRates is the fallback table for currencies that lack live resolution
// but have a well-known peg to the reference unit.
var staticRates = map[string]float64{
	"USDT": 1.0,
	"USDC": 1.0,
	"DAI":  1.0,
	"BUSD": 1.0,
}

type cacheKey struct {
	currency string
	date     civil.Date // zero value for live lookups
}

// Resolver turns a currency code (and optional historical date) into a
// conversion factor to the reference unit. Results are memoized per process
// run; the cache is never persisted or shared across workers. External calls
// are throttled with a fixed inter-call delay to stay under the provider's
// rate limit.
type Resolver struct {
	reference  string
	anchor     string
	anchorRate float64
	source     PriceSource
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]float64
}

// NewResolver creates a resolver targeting the given reference currency.
// anchor is the secondary fiat with a fixed cross-rate (anchorRate reference
// units per anchor unit). callDelay is the minimum spacing between external
// price calls.
func NewResolver(reference, anchor string, anchorRate float64, source PriceSource, callDelay time.Duration, log zerolog.Logger) *Resolver {
	if callDelay <= 0 {
		callDelay = time.Second
	}
	return &Resolver{
		reference:  strings.ToUpper(reference),
		anchor:     strings.ToUpper(anchor),
		anchorRate: anchorRate,
		source:     source,
		limiter:    rate.NewLimiter(rate.Every(callDelay), 1),
		cache:      make(map[cacheKey]float64),
		log:        log,
	}
}

// PeggedCurrencies returns the currencies whose rate never needs resolution:
// the reference itself plus everything in the static table resolving to 1.0.
// The backfill scanner excludes these from its candidate scan.
func (r *Resolver) PeggedCurrencies() []string {
	out := []string{r.reference}
	for currency, pegRate := range staticRates {
		if pegRate == 1.0 {
			out = append(out, currency)
		}
	}
	return out
}

// Resolvable reports whether the resolver has an authoritative source for
// the currency: the reference itself, the anchor fiat, a known volatile
// asset, or a static peg. For anything else RateToReference falls back to
// the display default 1.0, which must never be persisted.
func (r *Resolver) Resolvable(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == r.reference || currency == r.anchor {
		return true
	}
	if _, ok := assetIDs[currency]; ok {
		return true
	}
	_, ok := staticRates[currency]
	return ok
}

// RateToReference resolves the conversion factor from currency to the
// reference unit. asOf selects a historical rate; nil or today means live.
// Returns ErrRateUnavailable when the external source has no data; the
// failure is not cached so a later pass can retry.
func (r *Resolver) RateToReference(ctx context.Context, currency string, asOf *civil.Date) (float64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	// The reference converts to itself.
	if currency == r.reference {
		return 1.0, nil
	}
	// The anchor fiat has a fixed configured cross-rate.
	if currency == r.anchor {
		return r.anchorRate, nil
	}

	key := cacheKey{currency: currency}
	historical := false
	if asOf != nil && asOf.Before(civil.DateOf(time.Now())) {
		key.date = *asOf
		historical = true
	}
	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	if assetID, ok := assetIDs[currency]; ok {
		price, err := r.fetch(ctx, assetID, key.date, historical)
		if err != nil {
			return 0, err
		}
		r.mu.Lock()
		r.cache[key] = price
		r.mu.Unlock()
		return price, nil
	}

	if pegged, ok := staticRates[currency]; ok {
		return pegged, nil
	}

	// Unknown currency: default to 1.0 so aggregation keeps working, but
	// the figure is not financially authoritative.
	r.log.Warn().Str("currency", currency).Msg("Unknown currency, defaulting rate to 1.0")
	return 1.0, nil
}

// fetch calls the external source under the throttle. A non-positive price
// is treated the same as a provider error: still missing.
func (r *Resolver) fetch(ctx context.Context, assetID string, date civil.Date, historical bool) (float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rates: waiting for throttle: %w", err)
	}

	var price float64
	var err error
	if historical {
		price, err = r.source.HistoricalPrice(ctx, assetID, date)
	} else {
		price, err = r.source.Price(ctx, assetID)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("asset", assetID).Msg("Price lookup failed")
		return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, assetID)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s returned no data", ErrRateUnavailable, assetID)
	}
	return price, nil
}
