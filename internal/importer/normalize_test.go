package importer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerflow/internal/domain"
)

var bitoproHeader = []string{
	"Order ID", "Status", "Order Type", "Base Currency", "Quote Currency",
	"Executed Price", "Executed Quantity", "Executed Amount", "Transaction Time",
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   string
	}{
		{"bitopro", bitoproHeader, FormatBitoPro},
		{"binance", []string{"Date(UTC)", "Pair", "Side", "Price", "Executed", "Amount", "Fee"}, FormatBinance},
		{"max", []string{"Time", "Market", "Side", "Price", "Volume", "Fee", "State"}, FormatMax},
		{"unknown", []string{"When", "What", "How Much"}, FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.header))
		})
	}
}

func TestNormalize_BitoProBuyRow(t *testing.T) {
	mapping := BuiltinMapping(FormatBitoPro)
	require.NotNil(t, mapping)

	row := []string{
		"ord-1", "Completed", "buy", "BTC", "TWD",
		"1000000", "0.01", "10000", "2024-03-15 10:30:00",
	}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, domain.DirectionDebit, tx.Direction)
	assert.Equal(t, "BTC", tx.BaseCurrency)
	assert.Equal(t, "TWD", tx.QuoteCurrency)
	assert.True(t, tx.Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, tx.UnitPrice.Equal(decimal.NewFromInt(1000000)))
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), tx.OccurredAt)
	require.NoError(t, tx.Validate())
}

func TestNormalize_SellIsCredit(t *testing.T) {
	mapping := BuiltinMapping(FormatBitoPro)
	row := []string{
		"ord-2", "Completed", "sell", "ETH", "USDT",
		"2000", "1.5", "3000", "2024-03-16 09:00:00",
	}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, domain.DirectionCredit, tx.Direction)
}

func TestNormalize_SkipsNonCompletedStatus(t *testing.T) {
	mapping := BuiltinMapping(FormatBitoPro)
	row := []string{
		"ord-3", "Cancelled", "buy", "BTC", "TWD",
		"1000000", "0.01", "10000", "2024-03-15 10:30:00",
	}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestNormalize_DropsUnresolvableSide(t *testing.T) {
	mapping := BuiltinMapping(FormatBitoPro)
	row := []string{
		"ord-4", "Completed", "lend", "BTC", "TWD",
		"1000000", "0.01", "10000", "2024-03-15 10:30:00",
	}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestNormalize_MalformedNumberIsError(t *testing.T) {
	mapping := BuiltinMapping(FormatBitoPro)
	row := []string{
		"ord-5", "Completed", "buy", "BTC", "TWD",
		"not-a-number", "0.01", "10000", "2024-03-15 10:30:00",
	}

	tx, err := Normalize(row, mapping, "alice")
	require.Error(t, err)
	assert.Nil(t, tx)
}

func TestNormalize_MergedPairFromSymbolColumn(t *testing.T) {
	mapping := BuiltinMapping(FormatBinance)
	row := []string{"2024-03-15 10:30:00", "BTCUSDT", "BUY", "65000", "0.1", "6500", "0.00001BTC"}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "BTC", tx.BaseCurrency)
	assert.Equal(t, "USDT", tx.QuoteCurrency)
	assert.True(t, tx.Fee.Equal(decimal.RequireFromString("0.00001")))
}

func TestNormalize_AmountDerivedFromPriceTimesQuantity(t *testing.T) {
	mapping := BuiltinMapping(FormatMax)
	row := []string{"2024-03-15 10:30:00", "ETHTWD", "buy", "100000", "2", "0.1", "done"}

	tx, err := Normalize(row, mapping, "alice")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(200000)), "got %s", tx.Amount)
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHTWD", "ETH", "TWD"},
		{"SOLUSD", "SOL", "USD"},
		{"eth/usdt", "ETH", "USDT"},
		{"DOGE-BTC", "DOGE", "BTC"},
		{"XYZ", "XYZ", ""},
		{"USDT", "USDT", ""},
	}

	for _, tt := range tests {
		base, quote := SplitSymbol(tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

// Concatenating the normalized base and quote must reproduce the original
// merged pair string.
func TestSplitSymbol_RoundTrip(t *testing.T) {
	for _, pair := range []string{"BTCUSDT", "ETHTWD", "ADAUSD", "DOTUSDC"} {
		base, quote := SplitSymbol(pair)
		require.NotEmpty(t, quote, pair)
		assert.Equal(t, pair, base+quote)
	}
}
