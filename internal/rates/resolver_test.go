package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerflow/internal/logger"
)

// stubSource is a scriptable PriceSource for tests.
type stubSource struct {
	liveCalls       int
	historicalCalls int
	livePrice       float64
	historicalPrice float64
	liveErr         error
	historicalErr   error
}

func (s *stubSource) Price(ctx context.Context, assetID string) (float64, error) {
	s.liveCalls++
	return s.livePrice, s.liveErr
}

func (s *stubSource) HistoricalPrice(ctx context.Context, assetID string, date civil.Date) (float64, error) {
	s.historicalCalls++
	return s.historicalPrice, s.historicalErr
}

func newTestResolver(source PriceSource) *Resolver {
	return NewResolver("USD", "TWD", 0.032, source, time.Millisecond, logger.New())
}

func TestRateToReference_ReferenceIsAlwaysOne(t *testing.T) {
	src := &stubSource{}
	r := newTestResolver(src)

	rate, err := r.RateToReference(context.Background(), "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
	assert.Zero(t, src.liveCalls, "reference currency must not hit the source")

	// Case and whitespace are tolerated.
	rate, err = r.RateToReference(context.Background(), " usd ", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestRateToReference_AnchorUsesConfiguredConstant(t *testing.T) {
	src := &stubSource{}
	r := newTestResolver(src)

	rate, err := r.RateToReference(context.Background(), "TWD", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.032, rate)
	assert.Zero(t, src.liveCalls)
}

func TestRateToReference_VolatileAssetLive(t *testing.T) {
	src := &stubSource{livePrice: 65000}
	r := newTestResolver(src)

	rate, err := r.RateToReference(context.Background(), "BTC", nil)
	require.NoError(t, err)
	assert.Equal(t, 65000.0, rate)
	assert.Equal(t, 1, src.liveCalls)
	assert.Zero(t, src.historicalCalls)
}

func TestRateToReference_HistoricalDateUsesHistoryEndpoint(t *testing.T) {
	src := &stubSource{historicalPrice: 2000}
	r := newTestResolver(src)
	asOf := civil.Date{Year: 2023, Month: 1, Day: 15}

	rate, err := r.RateToReference(context.Background(), "ETH", &asOf)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, rate)
	assert.Equal(t, 1, src.historicalCalls)
	assert.Zero(t, src.liveCalls)
}

func TestRateToReference_TodayIsLive(t *testing.T) {
	src := &stubSource{livePrice: 100}
	r := newTestResolver(src)
	today := civil.DateOf(time.Now())

	_, err := r.RateToReference(context.Background(), "SOL", &today)
	require.NoError(t, err)
	assert.Equal(t, 1, src.liveCalls)
	assert.Zero(t, src.historicalCalls)
}

func TestRateToReference_MemoizesWithinRun(t *testing.T) {
	src := &stubSource{historicalPrice: 2000}
	r := newTestResolver(src)
	asOf := civil.Date{Year: 2023, Month: 1, Day: 15}

	for i := 0; i < 3; i++ {
		_, err := r.RateToReference(context.Background(), "ETH", &asOf)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.historicalCalls, "repeat lookups must hit the cache")
}

func TestRateToReference_UnavailableNotCached(t *testing.T) {
	src := &stubSource{historicalErr: errors.New("provider down")}
	r := newTestResolver(src)
	asOf := civil.Date{Year: 2021, Month: 3, Day: 2}

	_, err := r.RateToReference(context.Background(), "ETH", &asOf)
	assert.ErrorIs(t, err, ErrRateUnavailable)

	// The failure must not be cached: a recovered provider is retried.
	src.historicalErr = nil
	src.historicalPrice = 1800
	rate, err := r.RateToReference(context.Background(), "ETH", &asOf)
	require.NoError(t, err)
	assert.Equal(t, 1800.0, rate)
	assert.Equal(t, 2, src.historicalCalls)
}

func TestRateToReference_NonPositivePriceIsUnavailable(t *testing.T) {
	src := &stubSource{livePrice: 0}
	r := newTestResolver(src)

	_, err := r.RateToReference(context.Background(), "BTC", nil)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestRateToReference_StaticFallback(t *testing.T) {
	src := &stubSource{}
	r := newTestResolver(src)

	rate, err := r.RateToReference(context.Background(), "USDT", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
	assert.Zero(t, src.liveCalls)
}

func TestRateToReference_UnknownDefaultsToOne(t *testing.T) {
	src := &stubSource{}
	r := newTestResolver(src)

	rate, err := r.RateToReference(context.Background(), "XYZNOTREAL", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestResolvable(t *testing.T) {
	r := newTestResolver(&stubSource{})

	for _, currency := range []string{"USD", "TWD", "BTC", "USDT", " eth "} {
		assert.True(t, r.Resolvable(currency), currency)
	}
	for _, currency := range []string{"EUR", "GBP", "XYZNOTREAL"} {
		assert.False(t, r.Resolvable(currency), currency)
	}
}

func TestPeggedCurrencies_IncludesReferenceAndPegs(t *testing.T) {
	r := newTestResolver(&stubSource{})
	pegged := r.PeggedCurrencies()

	assert.Contains(t, pegged, "USD")
	assert.Contains(t, pegged, "USDT")
	assert.NotContains(t, pegged, "BTC")
	assert.NotContains(t, pegged, "TWD")
}
