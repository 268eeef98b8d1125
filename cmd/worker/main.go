package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledgerflow/internal/aiparse"
	"github.com/dvloznov/ledgerflow/internal/api/middleware"
	"github.com/dvloznov/ledgerflow/internal/blob"
	"github.com/dvloznov/ledgerflow/internal/config"
	"github.com/dvloznov/ledgerflow/internal/jobs"
	jobspg "github.com/dvloznov/ledgerflow/internal/jobs/postgres"
	"github.com/dvloznov/ledgerflow/internal/ledger"
	"github.com/dvloznov/ledgerflow/internal/logger"
	"github.com/dvloznov/ledgerflow/internal/pipeline"
	"github.com/dvloznov/ledgerflow/internal/store/postgres"
)

// jobTimeout bounds one job execution, covering the AI round-trip with room
// to spare.
const jobTimeout = 2 * time.Minute

func main() {
	log := logger.New()

	cfg, err := config.Load(true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	queue := jobspg.NewQueue(store.Pool())

	parser, err := aiparse.NewClient(ctx, cfg.GeminiAPIKey, "", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AI parse client")
	}

	// Receipt jobs fetch their image from the blob store; without one they
	// fail with an explicit error instead of blocking the queue.
	var blobStore pipeline.BlobFetcher
	if bs, err := blob.NewStore(ctx, cfg.GCSBucket); err != nil {
		log.Warn().Err(err).Msg("No blob store available - receipt jobs will fail")
	} else {
		defer bs.Close()
		blobStore = bs
	}

	ledgerSvc := ledger.NewService(store, store, log)

	worker := jobs.NewWorker(queue, cfg.WorkerPollInterval, jobTimeout, log)
	pipeline.New(parser, blobStore, ledgerSvc, log).Register(worker)

	// Kick endpoint: producers POST here after enqueuing so jobs start
	// before the next poll tick. Best-effort on their side.
	mux := http.NewServeMux()
	mux.HandleFunc("/kick", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		worker.Kick()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	kickServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Worker kick endpoint listening")
		if err := kickServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start kick endpoint")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Worker stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := kickServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Kick endpoint forced to shutdown")
	}

	log.Info().Msg("Worker exited")
}
