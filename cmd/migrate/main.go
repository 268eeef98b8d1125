package main

import (
	"context"
	"time"

	"github.com/dvloznov/ledgerflow/internal/config"
	"github.com/dvloznov/ledgerflow/internal/logger"
	"github.com/dvloznov/ledgerflow/internal/store/postgres"
)

func main() {
	log := logger.New()

	cfg, err := config.Load(false)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	log.Info().Msg("Schema is up to date")
}
