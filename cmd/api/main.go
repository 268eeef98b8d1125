package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/ledgerflow/internal/aiparse"
	"github.com/dvloznov/ledgerflow/internal/api/handlers"
	"github.com/dvloznov/ledgerflow/internal/api/middleware"
	"github.com/dvloznov/ledgerflow/internal/blob"
	"github.com/dvloznov/ledgerflow/internal/config"
	"github.com/dvloznov/ledgerflow/internal/importer"
	"github.com/dvloznov/ledgerflow/internal/jobs"
	jobspg "github.com/dvloznov/ledgerflow/internal/jobs/postgres"
	"github.com/dvloznov/ledgerflow/internal/ledger"
	"github.com/dvloznov/ledgerflow/internal/logger"
	"github.com/dvloznov/ledgerflow/internal/rates"
	"github.com/dvloznov/ledgerflow/internal/snapshot"
	"github.com/dvloznov/ledgerflow/internal/store/postgres"
)

func main() {
	log := logger.New()

	cfg, err := config.Load(false)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	queue := jobspg.NewQueue(store.Pool())

	// Schema inference needs the AI oracle; without a key, unknown CSV
	// formats are rejected at the API instead.
	var inferrer importer.SchemaInferrer
	if cfg.GeminiAPIKey != "" {
		client, err := aiparse.NewClient(ctx, cfg.GeminiAPIKey, "", log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create AI parse client")
		}
		inferrer = client
	} else {
		log.Warn().Msg("No Gemini API key configured - unknown CSV formats will be rejected")
	}

	resolver := rates.NewResolver(
		cfg.ReferenceCurrency,
		cfg.AnchorCurrency,
		cfg.AnchorRate,
		rates.NewCoinGeckoSource(cfg.ReferenceCurrency, cfg.QuoteTimeout),
		cfg.RateCallDelay,
		log,
	)

	// Receipt uploads land in GCS; without a bucket the endpoint rejects
	// uploads instead.
	var blobStore handlers.BlobStore
	if cfg.GCSBucket != "" {
		bs, err := blob.NewStore(ctx, cfg.GCSBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create blob store")
		}
		defer bs.Close()
		blobStore = bs
	} else {
		log.Warn().Msg("No GCS bucket configured - receipt uploads will be rejected")
	}

	ledgerSvc := ledger.NewService(store, store, log)
	aggregator := snapshot.NewAggregator(store, store, resolver, cfg.ReferenceCurrency, log)
	nudge := jobs.NewHTTPNudge(cfg.WorkerKickURL, log)

	transactionsHandler := handlers.NewTransactionsHandler(ledgerSvc, log)
	ingestHandler := handlers.NewIngestHandler(queue, inferrer, blobStore, nudge, log)
	jobsHandler := handlers.NewJobsHandler(queue, log)
	reportsHandler := handlers.NewReportsHandler(aggregator, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			transactionsHandler.Create(w, r)
		case http.MethodGet:
			transactionsHandler.List(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/parse", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ingestHandler.EnqueueParse(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ingestHandler.UploadReceipt(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/imports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ingestHandler.ImportCSV(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/api/networth", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reportsHandler.NetWorth(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reportsHandler.History(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
