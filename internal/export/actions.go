package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kb-export/internal/config"
	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/db"
	"github.com/dtnitsch/kb-export/pkg/exporter"
	"github.com/dtnitsch/kb-export/pkg/fetcher"
	"github.com/dtnitsch/kb-export/pkg/manifest"
	"github.com/dtnitsch/kb-export/pkg/plan"
	"github.com/dtnitsch/kb-export/pkg/stats"
	"github.com/dtnitsch/kb-export/pkg/storage"
	"github.com/dtnitsch/kb-export/pkg/watcher"
)

// NewLogger builds the JSON stderr logger shared by every command.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	} else if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func ExportAction(c *cli.Context) error {
	logger := NewLogger(c)
	startTime := time.Now()

	cfg := config.FromContext(c, logger)
	if err := config.Validate(cfg); err != nil {
		if errors.Is(err, config.ErrExportRootMissing) {
			logger.Error("Export path does not exist", "path", cfg.ExportPath)
		} else {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(2)
	}

	targets, err := plan.LoadResolved(cfg.TargetsPath, cfg.ExportPath)
	if err != nil {
		logger.Error("failed to load target list", "path", cfg.TargetsPath, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, recorder, closeHistory := openHistory(cfg, startTime, logger)
	closeHistory = sync.OnceFunc(closeHistory)
	defer closeHistory()

	logger.Info("Starting export",
		"run_id", runID,
		"export_path", cfg.ExportPath,
		"targets", len(targets),
		"write_strategy", cfg.Strategy.String())

	report, trigger := run(ctx, cfg, targets, recorder, logger)
	trigger.Wait()
	finishTime := time.Now()

	if recorder != nil {
		if err := recorder.db.FinishRun(runID, finishTime, report.Stats, report.Cancelled); err != nil {
			logger.Warn("Failed to record run in DB", "error", err)
		}
	}

	info := manifest.RunInfo{
		RunID:      runID,
		StartedAt:  startTime,
		FinishedAt: finishTime,
		ExportPath: cfg.ExportPath,
		Strategy:   cfg.Strategy,
	}
	if path, err := manifest.WriteSummary(info, report); err != nil {
		logger.Warn("Failed to write run summary", "error", err)
	} else {
		logger.Info("Run summary written", "path", path)
	}

	fmt.Printf("Summary: %s\n", report.Stats)
	if report.Cancelled > 0 {
		fmt.Printf("Cancelled: %d document(s) not attempted\n", report.Cancelled)
	}
	logger.Info("Export complete", "run_id", runID, "duration", time.Since(startTime).String())

	if report.Failed() > 0 || report.Cancelled > 0 {
		// os.Exit skips deferred calls.
		closeHistory()
		stop()
		os.Exit(1)
	}
	return nil
}

// run wires the pipeline: one stats aggregate shared by writer, watcher and
// orchestrator.
func run(ctx context.Context, cfg *models.ExportConfig, targets []models.DownloadTarget, recorder *historyRecorder, logger *slog.Logger) (exporter.Report, *fetcher.HTTPTrigger) {
	st := stats.New()
	writer := storage.NewWriter(cfg.Strategy, st, logger)
	w := watcher.New(writer, watcher.Options{
		Timeout: cfg.Timeout,
		Logger:  logger,
		Stats:   st,
	})
	trigger := fetcher.NewHTTPTrigger(nil, logger)

	opts := exporter.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	orch := exporter.NewOrchestrator(trigger, w, st, opts)
	return exporter.NewExporter(orch, cfg.Pace).Export(ctx, targets), trigger
}

type historyRecorder struct {
	*db.Recorder
	db *db.DB
}

// openHistory creates the run record. History is optional: failures are
// logged and the export continues without it, under a fresh run id.
func openHistory(cfg *models.ExportConfig, startTime time.Time, logger *slog.Logger) (string, *historyRecorder, func()) {
	fallbackID := startTime.UTC().Format("20060102T150405Z")
	if cfg.NoHistory {
		return fallbackID, nil, func() {}
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Warn("Failed to open history database, continuing without history", "path", cfg.DBPath, "error", err)
		return fallbackID, nil, func() {}
	}

	runID, err := database.CreateRun(cfg.ExportPath, cfg.Strategy.String(), startTime)
	if err != nil {
		logger.Warn("Failed to record run in DB, continuing without history", "error", err)
		_ = database.Close()
		return fallbackID, nil, func() {}
	}

	return runID, &historyRecorder{Recorder: database.Recorder(runID), db: database}, func() {
		if err := database.Close(); err != nil {
			logger.Warn("Failed to close history database", "error", err)
		}
	}
}
