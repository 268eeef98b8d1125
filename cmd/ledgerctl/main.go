// ledgerctl is the operator CLI: direct CSV imports, receipt uploads,
// snapshot capture, rate backfill and sweep passes, net-worth queries, and
// manual job management.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/dvloznov/ledgerflow/internal/aiparse"
	"github.com/dvloznov/ledgerflow/internal/backfill"
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New()

	ownerFlag := &cli.StringFlag{
		Name:     "owner",
		Usage:    "owner id the operation applies to",
		Required: true,
	}

	app := &cli.Command{
		Name:  "ledgerctl",
		Usage: "operator tooling for the ledgerflow ingestion pipeline",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "import an exchange CSV export directly (no queue)",
				Flags: []cli.Flag{
					ownerFlag,
					&cli.StringFlag{
						Name:     "file",
						Usage:    "local path or gs:// URI of the CSV export",
						Required: true,
					},
				},
				Action: importAction(log),
			},
			{
				Name:  "snapshot",
				Usage: "capture today's balance snapshot for an owner",
				Flags: []cli.Flag{
					ownerFlag,
					&cli.StringFlag{
						Name:  "date",
						Usage: "snapshot date (YYYY-MM-DD, default today)",
					},
				},
				Action: snapshotAction(log),
			},
			{
				Name:  "backfill",
				Usage: "run one bounded pass resolving missing conversion rates",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "max rows to scan this pass",
						Value: 50,
					},
					&cli.DurationFlag{
						Name:  "budget",
						Usage: "wall-clock budget for the pass",
						Value: 4 * time.Minute,
					},
				},
				Action: backfillAction(log),
			},
			{
				Name:  "sweep",
				Usage: "refresh recently resolved conversion rates with final historical figures",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "window",
						Usage: "how far back to sweep",
						Value: 7 * 24 * time.Hour,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "max rows to scan this pass",
						Value: 50,
					},
					&cli.DurationFlag{
						Name:  "budget",
						Usage: "wall-clock budget for the pass",
						Value: 4 * time.Minute,
					},
				},
				Action: sweepAction(log),
			},
			{
				Name:   "networth",
				Usage:  "print the current net-worth breakdown for an owner",
				Flags:  []cli.Flag{ownerFlag},
				Action: networthAction(log),
			},
			{
				Name:  "enqueue",
				Usage: "enqueue a parse_text job for free-form text",
				Flags: []cli.Flag{
					ownerFlag,
					&cli.StringFlag{
						Name:     "text",
						Usage:    "free-form text to parse",
						Required: true,
					},
				},
				Action: enqueueAction(log),
			},
			{
				Name:  "receipt",
				Usage: "upload a receipt image and enqueue a parse_receipt job",
				Flags: []cli.Flag{
					ownerFlag,
					&cli.StringFlag{
						Name:     "file",
						Usage:    "local path or gs:// URI of the receipt image",
						Required: true,
					},
				},
				Action: receiptAction(log),
			},
			{
				Name:  "requeue",
				Usage: "reset a FAILED job to PENDING for reprocessing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Usage:    "job id",
						Required: true,
					},
				},
				Action: requeueAction(log),
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func importAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var inferrer importer.SchemaInferrer
		if cfg.GeminiAPIKey != "" {
			client, err := aiparse.NewClient(ctx, cfg.GeminiAPIKey, "", log)
			if err != nil {
				return err
			}
			inferrer = client
		}

		ledgerSvc := ledger.NewService(store, store, log)
		im := importer.NewImporter(ledgerSvc, inferrer, log)

		path := cmd.String("file")
		data, err := fetchFile(ctx, cfg, path)
		if err != nil {
			return err
		}

		result, err := im.Import(ctx, bytes.NewReader(data), cmd.String("owner"))
		if err != nil {
			return err
		}

		fmt.Printf("format: %s\nimported: %d\nfailed: %d\nskipped: %d\n",
			result.FormatID, result.SuccessCount, result.FailedCount, result.SkippedCount)
		for _, msg := range result.Errors {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	}
}

func snapshotAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var date civil.Date
		if s := cmd.String("date"); s != "" {
			if date, err = civil.ParseDate(s); err != nil {
				return fmt.Errorf("invalid date %q: %w", s, err)
			}
		}

		agg := snapshot.NewAggregator(store, store, newResolver(cfg, log), cfg.ReferenceCurrency, log)
		return agg.CaptureSnapshot(ctx, cmd.String("owner"), date)
	}
}

func backfillAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		scanner := backfill.NewScanner(
			store, store, newResolver(cfg, log),
			cmd.Int("limit"), cmd.Duration("budget"), log,
		)
		summary, err := scanner.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned: %d\nresolved: %d\nunresolved: %d\n",
			summary.Scanned, summary.Resolved, summary.Unresolved)
		return nil
	}
}

func sweepAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		scanner := backfill.NewScanner(
			store, store, newResolver(cfg, log),
			cmd.Int("limit"), cmd.Duration("budget"), log,
		)
		summary, err := scanner.Sweep(ctx, cmd.Duration("window"))
		if err != nil {
			return err
		}
		fmt.Printf("scanned: %d\nrefreshed: %d\nunresolved: %d\n",
			summary.Scanned, summary.Resolved, summary.Unresolved)
		return nil
	}
}

func receiptAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		path := cmd.String("file")
		uri := path
		if !strings.HasPrefix(path, "gs://") && cfg.GCSBucket != "" {
			// Upload local files so any worker can fetch them; without a
			// bucket the local path goes through as-is (shared FS only).
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			blobStore, err := blob.NewStore(ctx, cfg.GCSBucket)
			if err != nil {
				return err
			}
			defer blobStore.Close()
			uri, err = blobStore.Put(ctx, "receipts/"+blob.Filename(path), data)
			if err != nil {
				return err
			}
		}

		payload, err := json.Marshal(jobs.ParseReceiptPayload{
			URI:      uri,
			MIMEType: receiptMIME(path),
		})
		if err != nil {
			return err
		}

		queue := jobspg.NewQueue(store.Pool())
		jobID, err := queue.Enqueue(ctx, jobs.KindParseReceipt, cmd.String("owner"), payload)
		if err != nil {
			return err
		}
		jobs.NewHTTPNudge(cfg.WorkerKickURL, log)()

		fmt.Printf("stored %s\nenqueued job %s\n", uri, jobID)
		return nil
	}
}

func receiptMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}

func networthAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		agg := snapshot.NewAggregator(store, store, newResolver(cfg, log), cfg.ReferenceCurrency, log)
		nw, err := agg.ComputeNetWorth(ctx, cmd.String("owner"))
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(nw, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}

func enqueueAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		payload, err := json.Marshal(jobs.ParseTextPayload{Text: cmd.String("text")})
		if err != nil {
			return err
		}

		queue := jobspg.NewQueue(store.Pool())
		jobID, err := queue.Enqueue(ctx, jobs.KindParseText, cmd.String("owner"), payload)
		if err != nil {
			return err
		}
		jobs.NewHTTPNudge(cfg.WorkerKickURL, log)()

		fmt.Printf("enqueued job %s\n", jobID)
		return nil
	}
}

func requeueAction(log zerolog.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		queue := jobspg.NewQueue(store.Pool())
		jobID := cmd.String("job")
		if err := queue.Requeue(ctx, jobID); err != nil {
			return err
		}
		jobs.NewHTTPNudge(cfg.WorkerKickURL, log)()

		fmt.Printf("requeued job %s\n", jobID)
		return nil
	}
}

func setup(ctx context.Context) (*config.Config, *postgres.Store, error) {
	cfg, err := config.Load(false)
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newResolver(cfg *config.Config, log zerolog.Logger) *rates.Resolver {
	return rates.NewResolver(
		cfg.ReferenceCurrency,
		cfg.AnchorCurrency,
		cfg.AnchorRate,
		rates.NewCoinGeckoSource(cfg.ReferenceCurrency, cfg.QuoteTimeout),
		cfg.RateCallDelay,
		log,
	)
}

func fetchFile(ctx context.Context, cfg *config.Config, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "gs://") {
		return os.ReadFile(path)
	}
	blobStore, err := blob.NewStore(ctx, cfg.GCSBucket)
	if err != nil {
		return nil, err
	}
	defer blobStore.Close()
	return blobStore.Fetch(ctx, path)
}
