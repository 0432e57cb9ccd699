package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/digest"
	"github.com/dtnitsch/kb-export/pkg/exporter"
	"github.com/dtnitsch/kb-export/pkg/storage"
)

// Dir is the directory under the export root holding run bookkeeping.
const Dir = ".kb-export"

// RunInfo describes the run a report belongs to.
type RunInfo struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	ExportPath string
	Strategy   models.WriteStrategy
}

// Build assembles the manifest for a finished run.
func Build(info RunInfo, report exporter.Report) SummaryManifest {
	m := SummaryManifest{
		RunID:      info.RunID,
		StartedAt:  info.StartedAt.Format(time.RFC3339),
		FinishedAt: info.FinishedAt.Format(time.RFC3339),
		ExportPath: info.ExportPath,
		Strategy:   info.Strategy.String(),
		Summary:    report.Stats.String(),
		Written:    report.Stats.Written,
		Skipped:    report.Stats.SkippedUnchanged,
		Errored:    report.Stats.Errored,
		Cancelled:  report.Cancelled,
	}

	var total uint64
	for _, o := range report.Outcomes {
		doc := DocumentSummary{
			Book:     o.Target.Book,
			Name:     o.Target.Name,
			Path:     relativePath(info.ExportPath, o.Target.FinalPath()),
			Status:   status(o),
			Attempts: o.Attempts,
		}
		if o.Result.Digest != "" {
			doc.Digest = digest.Token(o.Result.Digest).Short()
		}
		if o.Result.Size > 0 {
			doc.Size = humanize.Bytes(uint64(o.Result.Size))
			total += uint64(o.Result.Size)
		}
		if o.Err != nil {
			doc.ErrorMessage = o.Err.Error()
		} else if o.Result.Err != nil {
			doc.ErrorMessage = o.Result.Err.Error()
		}
		m.Documents = append(m.Documents, doc)
	}
	if total > 0 {
		m.TotalSize = humanize.Bytes(total)
	}
	return m
}

// Path returns where the manifest for runID is written.
func Path(exportPath, runID string) string {
	return filepath.Join(exportPath, Dir, fmt.Sprintf("summary-%s.yaml", runID))
}

// WriteSummary builds the manifest and writes it atomically under the export
// root. It returns the manifest path.
func WriteSummary(info RunInfo, report exporter.Report) (string, error) {
	m := Build(info, report)
	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("error marshalling manifest: %w", err)
	}

	manifestPath := Path(info.ExportPath, info.RunID)
	if err := storage.EnsureDir(filepath.Dir(manifestPath)); err != nil {
		return "", fmt.Errorf("error creating manifest directory: %w", err)
	}
	if err := storage.WriteFileAtomic(manifestPath, data); err != nil {
		return "", fmt.Errorf("error saving manifest: %w", err)
	}
	return manifestPath, nil
}

func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func status(o models.TargetOutcome) string {
	if errors.Is(o.Err, exporter.ErrCancelled) {
		return "cancelled"
	}
	return o.Status()
}
