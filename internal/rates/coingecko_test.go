package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoSource_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65123.45}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSourceWithBaseURL(srv.URL, "USD", time.Second)
	price, err := src.Price(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 65123.45, price)
}

func TestCoinGeckoSource_Price_MissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSourceWithBaseURL(srv.URL, "USD", time.Second)
	_, err := src.Price(context.Background(), "bitcoin")
	assert.Error(t, err)
}

func TestCoinGeckoSource_HistoricalPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/ethereum/history", r.URL.Path)
		assert.Equal(t, "15-01-2023", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"market_data":{"current_price":{"usd":1551.2}}}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSourceWithBaseURL(srv.URL, "USD", time.Second)
	price, err := src.HistoricalPrice(context.Background(), "ethereum", civil.Date{Year: 2023, Month: 1, Day: 15})
	require.NoError(t, err)
	assert.Equal(t, 1551.2, price)
}

// Obscure historical dates sometimes come back without market_data at all.
func TestCoinGeckoSource_HistoricalPrice_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ethereum","symbol":"eth"}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSourceWithBaseURL(srv.URL, "USD", time.Second)
	_, err := src.HistoricalPrice(context.Background(), "ethereum", civil.Date{Year: 2014, Month: 1, Day: 1})
	assert.Error(t, err)
}

func TestCoinGeckoSource_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGeckoSourceWithBaseURL(srv.URL, "USD", time.Second)
	_, err := src.Price(context.Background(), "bitcoin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
