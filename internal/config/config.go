package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration. It is loaded once at startup;
// missing credentials are fatal before any work is leased.
type Config struct {
	// DatabaseURL is the Postgres DSN backing the ledger store and job queue.
	DatabaseURL string

	// GeminiAPIKey authenticates the AI parse oracle. Required for the
	// worker and for CSV imports that hit unknown formats; the API server
	// only enqueues and does not need it.
	GeminiAPIKey string

	// GCSBucket is the bucket raw uploads (receipts, CSV exports) land in.
	// Optional: local file paths are also accepted by the blob fetcher.
	GCSBucket string

	// ReferenceCurrency is the unit all conversions target for aggregation.
	ReferenceCurrency string

	// AnchorCurrency is the secondary fiat with a fixed cross-rate to the
	// reference unit, so it never costs an external call.
	AnchorCurrency string
	AnchorRate     float64

	// WorkerPollInterval is how often an idle worker polls the job queue.
	WorkerPollInterval time.Duration

	// RateCallDelay is the fixed inter-call delay for historical price
	// lookups, keeping us under the provider's rate limit.
	RateCallDelay time.Duration

	// QuoteTimeout bounds a single price/AI oracle round-trip.
	QuoteTimeout time.Duration

	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// WorkerKickURL is the best-effort nudge target the producer POSTs to
	// after enqueuing a job. Empty disables the nudge.
	WorkerKickURL string
}

// Load reads .env (if present) and the environment, applies defaults, and
// validates required settings. requireOracle should be true for processes
// that call the AI oracle (worker, importer CLI).
func Load(requireOracle bool) (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		ReferenceCurrency:  getEnv("REFERENCE_CURRENCY", "USD"),
		AnchorCurrency:     getEnv("ANCHOR_CURRENCY", "TWD"),
		AnchorRate:         getEnvFloat("ANCHOR_RATE", 0.032),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 10*time.Second),
		RateCallDelay:      getEnvDuration("RATE_CALL_DELAY", 1500*time.Millisecond),
		QuoteTimeout:       getEnvDuration("QUOTE_TIMEOUT", 5*time.Second),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		WorkerKickURL:      os.Getenv("WORKER_KICK_URL"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if requireOracle && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("config: GEMINI_API_KEY is required for this process")
	}
	if cfg.AnchorRate <= 0 {
		return nil, fmt.Errorf("config: ANCHOR_RATE must be positive, got %v", cfg.AnchorRate)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
