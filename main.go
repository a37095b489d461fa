// Command postwatch monitors a single social-media account through a
// scraping proxy, maintains a deduplicated post archive, announces new
// posts to a chat webhook and alerts an operator when scraping goes quiet.
//
// One invocation performs one unit of work ("run" is one fetch cycle,
// "health" one staleness check); looping is the external scheduler's job,
// which must also ensure runs never overlap. The "serve" mode exposes the
// same two operations as HTTP trigger endpoints for Cloud-Run-style
// deployments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"

	"postwatch/config"
	"postwatch/cycle"
	"postwatch/health"
	"postwatch/notify"
	"postwatch/scraper"
	"postwatch/server"
	"postwatch/storage"
)

const serviceName = "postwatch"

// app ties one configured instance together and adapts it to the trigger
// server's interfaces.
type app struct {
	orchestrator *cycle.Orchestrator
	tracker      *health.Tracker
	staleness    *health.Staleness
	store        *storage.Store
	logger       *slog.Logger
}

// Cycle runs one fetch cycle and feeds its outcome to the failure tracker.
func (a *app) Cycle(ctx context.Context) bool {
	success := a.orchestrator.Run(ctx)
	count := a.tracker.RecordOutcome(ctx, success)
	a.logger.Info("Recorded cycle outcome", "success", success, "error_count", count)
	return success
}

// Check runs one staleness check.
func (a *app) Check(ctx context.Context) {
	a.staleness.Check(ctx)
}

func main() {
	configPath := flag.String("config", "./data/config.json", "Path to the JSON config file.")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	var store *storage.Store
	snapshotURL := ""
	if !cfg.UseLocalArchive {
		snapshotURL = cfg.ArchiveURL
	}
	if cfg.StorageBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = storage.New(client, cfg.StorageBucket, "", snapshotURL, logger)
		logger.Info("Using Cloud Storage backend", "bucket", cfg.StorageBucket)
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		store = storage.New(nil, "", cfg.DataDir, snapshotURL, logger)
		logger.Info("Using local storage backend", "path", cfg.DataDir)
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	scr := scraper.New(httpClient, logger,
		cfg.ProxyURL, cfg.ScrapeProxyKey, cfg.TargetURL, cfg.AccountURL, cfg.PageSize)

	var provider notify.Provider
	if cfg.WebhookURL != "" {
		provider = notify.NewWebhookProvider(cfg.WebhookURL, logger)
	} else {
		logger.Info("No webhook URL configured, notifications will be logged only")
		provider = notify.NewMockProvider(logger)
	}
	dispatcher := notify.New(provider, store, logger)

	alerter := health.NewAlerter(cfg.HealthCheckURL, serviceName, store, logger)
	a := &app{
		orchestrator: cycle.New(scr, store, dispatcher, cfg.MaxPages, logger),
		tracker:      health.NewTracker(store, alerter, cfg.ErrorThreshold, logger),
		staleness: health.NewStaleness(store, scr, alerter,
			time.Duration(cfg.MaxHoursWithoutSuccess)*time.Hour, logger),
		store:  store,
		logger: logger,
	}

	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}

	switch command {
	case "run":
		requireTarget(cfg, logger)
		a.Cycle(ctx)
	case "health":
		a.Check(ctx)
	case "state":
		printState(ctx, a.store)
	case "serve":
		requireTarget(cfg, logger)
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		if err := server.New(a, a, logger).ListenAndServe(port); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run, health, state or serve)\n", command)
		os.Exit(2)
	}
}

func requireTarget(cfg config.Config, logger *slog.Logger) {
	if cfg.TargetURL == "" {
		logger.Error("target_url must be configured")
		os.Exit(1)
	}
}

// printState dumps persisted state for operator diagnostics.
func printState(ctx context.Context, store *storage.Store) {
	fmt.Printf("error count:       %d\n", store.ErrorCount(ctx))
	fmt.Printf("last alert:        %s\n", formatStamp(store.LastAlert(ctx)))
	fmt.Printf("last success:      %s\n", formatStamp(store.LastSuccess(ctx)))

	watermark := store.LastNotifiedID(ctx)
	if watermark == "" {
		watermark = "(none)"
	}
	fmt.Printf("last notified id:  %s\n", watermark)
	fmt.Printf("archived posts:    %d\n", len(store.LoadArchive(ctx)))

	keys, err := store.Keys(ctx)
	if err != nil {
		fmt.Printf("stored objects:    (error: %v)\n", err)
		return
	}
	fmt.Printf("stored objects:    %v\n", keys)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "(never)"
	}
	return t.Format(time.RFC3339)
}
