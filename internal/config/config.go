// Package config builds the export configuration from CLI flags and their
// EXPORT_* environment fallbacks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/db"
	"github.com/dtnitsch/kb-export/pkg/exporter"
	"github.com/dtnitsch/kb-export/pkg/watcher"
)

// ErrExportRootMissing is returned when the export root does not exist.
var ErrExportRootMissing = errors.New("export path does not exist")

// Default returns the configuration used when nothing is set.
func Default() *models.ExportConfig {
	return &models.ExportConfig{
		ExportPath: ".",
		Strategy:   models.DefaultWriteStrategy,
		MaxRetries: exporter.DefaultMaxRetries,
		Timeout:    watcher.DefaultTimeout,
	}
}

// ResolveWriteStrategy parses raw, falling back to the default strategy with a
// warning when the value is not recognised.
func ResolveWriteStrategy(raw string, logger *slog.Logger) models.WriteStrategy {
	strategy, ok := models.ParseWriteStrategy(raw)
	if !ok {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Invalid write strategy, using default",
			"value", raw,
			"default", models.DefaultWriteStrategy.String(),
			"allowed", []string{models.WriteStrategySkipUnchanged.String(), models.WriteStrategyOverwrite.String()})
	}
	return strategy
}

// FromContext reads the export flags. Flags that were not given keep their
// Default values.
func FromContext(c *cli.Context, logger *slog.Logger) *models.ExportConfig {
	cfg := Default()

	if c.IsSet("export-path") {
		cfg.ExportPath = c.String("export-path")
	}
	cfg.TargetsPath = c.String("targets")
	cfg.Strategy = ResolveWriteStrategy(c.String("write-strategy"), logger)
	if c.IsSet("retries") {
		cfg.MaxRetries = c.Int("retries")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	cfg.RetryDelay = c.Duration("retry-delay")
	cfg.Pace = c.Duration("pace")
	cfg.NoHistory = c.Bool("no-history")
	cfg.DBPath = c.String("db")
	if cfg.DBPath == "" {
		cfg.DBPath = db.DefaultPath(cfg.ExportPath)
	}
	return cfg
}

// Validate checks the configuration. A missing export root is reported as
// ErrExportRootMissing.
func Validate(cfg *models.ExportConfig) error {
	info, err := os.Stat(cfg.ExportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrExportRootMissing, cfg.ExportPath)
		}
		return fmt.Errorf("failed to check export path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export path %s is not a directory", cfg.ExportPath)
	}

	abs, err := filepath.Abs(cfg.ExportPath)
	if err != nil {
		return fmt.Errorf("failed to resolve export path: %w", err)
	}
	cfg.ExportPath = abs

	if cfg.TargetsPath == "" {
		return errors.New("a target list is required (--targets)")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.RetryDelay < 0 || cfg.Pace < 0 {
		return errors.New("retry-delay and pace must not be negative")
	}
	return nil
}
