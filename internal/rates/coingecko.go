package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoSource resolves asset prices against the public CoinGecko API.
// The free tier allows tens of calls per minute, which is why the resolver
// spaces calls out; a single request carries a short timeout so a slow
// provider cannot stall a worker.
type CoinGeckoSource struct {
	baseURL    string
	vsCurrency string
	client     *http.Client
}

// NewCoinGeckoSource creates a source quoting prices in vsCurrency (the
// reference fiat, e.g. "USD"). timeout bounds one request round-trip.
func NewCoinGeckoSource(vsCurrency string, timeout time.Duration) *CoinGeckoSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinGeckoSource{
		baseURL:    defaultCoinGeckoBaseURL,
		vsCurrency: strings.ToLower(vsCurrency),
		client:     &http.Client{Timeout: timeout},
	}
}

// NewCoinGeckoSourceWithBaseURL is used by tests to point at a stub server.
func NewCoinGeckoSourceWithBaseURL(baseURL, vsCurrency string, timeout time.Duration) *CoinGeckoSource {
	s := NewCoinGeckoSource(vsCurrency, timeout)
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

// Price implements PriceSource for live quotes.
func (s *CoinGeckoSource) Price(ctx context.Context, assetID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		s.baseURL, url.QueryEscape(assetID), url.QueryEscape(s.vsCurrency))

	var parsed map[string]map[string]float64
	if err := s.getJSON(ctx, endpoint, &parsed); err != nil {
		return 0, err
	}

	price, ok := parsed[assetID][s.vsCurrency]
	if !ok {
		return 0, fmt.Errorf("coingecko: no price for %s in %s", assetID, s.vsCurrency)
	}
	return price, nil
}

// HistoricalPrice implements PriceSource for past dates. CoinGecko's history
// endpoint wants DD-MM-YYYY and returns an object without market_data when
// it has nothing for that day.
func (s *CoinGeckoSource) HistoricalPrice(ctx context.Context, assetID string, date civil.Date) (float64, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/history?date=%02d-%02d-%04d&localization=false",
		s.baseURL, url.PathEscape(assetID), date.Day, int(date.Month), date.Year)

	var parsed struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := s.getJSON(ctx, endpoint, &parsed); err != nil {
		return 0, err
	}

	if parsed.MarketData == nil {
		return 0, fmt.Errorf("coingecko: no market data for %s on %s", assetID, date)
	}
	price, ok := parsed.MarketData.CurrentPrice[s.vsCurrency]
	if !ok {
		return 0, fmt.Errorf("coingecko: no %s price for %s on %s", s.vsCurrency, assetID, date)
	}
	return price, nil
}

func (s *CoinGeckoSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("coingecko: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coingecko: decode response: %w", err)
	}
	return nil
}

// Ensure CoinGeckoSource implements PriceSource.
var _ PriceSource = (*CoinGeckoSource)(nil)
