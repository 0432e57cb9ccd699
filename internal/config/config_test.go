package config

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/db"
)

func TestResolveWriteStrategy(t *testing.T) {
	tests := []struct {
		raw      string
		want     models.WriteStrategy
		wantWarn bool
	}{
		{"", models.WriteStrategySkipUnchanged, false},
		{"skip-unchanged", models.WriteStrategySkipUnchanged, false},
		{"overwrite", models.WriteStrategyOverwrite, false},
		{"sometimes", models.WriteStrategySkipUnchanged, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			if got := ResolveWriteStrategy(tt.raw, logger); got != tt.want {
				t.Errorf("ResolveWriteStrategy(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			warned := strings.Contains(buf.String(), "Invalid write strategy")
			if warned != tt.wantWarn {
				t.Errorf("warning logged = %v, want %v (log: %s)", warned, tt.wantWarn, buf.String())
			}
		})
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()

	cfg := Default()
	cfg.ExportPath = root
	cfg.TargetsPath = "targets.yaml"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missing := Default()
	missing.ExportPath = filepath.Join(root, "missing")
	missing.TargetsPath = "targets.yaml"
	if err := Validate(missing); !errors.Is(err, ErrExportRootMissing) {
		t.Errorf("Validate() error = %v, want ErrExportRootMissing", err)
	}

	noTargets := Default()
	noTargets.ExportPath = root
	if err := Validate(noTargets); err == nil {
		t.Error("Validate() without targets error = nil, want error")
	}

	badRetries := Default()
	badRetries.ExportPath = root
	badRetries.TargetsPath = "targets.yaml"
	badRetries.MaxRetries = -1
	if err := Validate(badRetries); err == nil {
		t.Error("Validate() with negative retries error = nil, want error")
	}
}

func newTestContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("export", flag.ContinueOnError)
	set.String("export-path", "", "")
	set.String("targets", "", "")
	set.String("write-strategy", "", "")
	set.Int("retries", 0, "")
	set.Duration("timeout", 0, "")
	set.Duration("retry-delay", 0, "")
	set.Duration("pace", 0, "")
	set.String("db", "", "")
	set.Bool("no-history", false, "")
	if err := set.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := newTestContext(t,
		"--export-path", "/export",
		"--targets", "targets.yaml",
		"--write-strategy", "overwrite",
		"--retries", "5",
		"--timeout", "30s",
		"--pace", "1s",
	)
	cfg := FromContext(c, logger)

	if cfg.ExportPath != "/export" || cfg.TargetsPath != "targets.yaml" {
		t.Errorf("paths = %q %q", cfg.ExportPath, cfg.TargetsPath)
	}
	if cfg.Strategy != models.WriteStrategyOverwrite {
		t.Errorf("Strategy = %q, want overwrite", cfg.Strategy)
	}
	if cfg.MaxRetries != 5 || cfg.Timeout != 30*time.Second || cfg.Pace != time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DBPath != db.DefaultPath("/export") {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, db.DefaultPath("/export"))
	}
}

func TestFromContext_Defaults(t *testing.T) {
	cfg := FromContext(newTestContext(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %s, want 10s", cfg.Timeout)
	}
	if cfg.Strategy != models.WriteStrategySkipUnchanged {
		t.Errorf("Strategy = %q, want skip-unchanged", cfg.Strategy)
	}
}
