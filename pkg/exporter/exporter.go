package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/stats"
	"github.com/dtnitsch/kb-export/pkg/storage"
)

// ErrCancelled marks targets that were never attempted because the run was
// cancelled.
var ErrCancelled = errors.New("export cancelled")

// Report is the result of one export run.
type Report struct {
	Outcomes  []models.TargetOutcome
	Stats     stats.Snapshot
	Cancelled int
}

// Failed returns the number of targets that were attempted and not exported.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil && !errors.Is(o.Err, ErrCancelled) {
			n++
		}
	}
	return n
}

// Exporter drives an Orchestrator over a list of targets.
type Exporter struct {
	orch    *Orchestrator
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewExporter creates an Exporter. A pace of zero starts targets back to back;
// otherwise consecutive triggers are at least pace apart.
func NewExporter(orch *Orchestrator, pace time.Duration) *Exporter {
	limit := rate.Inf
	if pace > 0 {
		limit = rate.Every(pace)
	}
	return &Exporter{
		orch:    orch,
		limiter: rate.NewLimiter(limit, 1),
		logger:  orch.logger,
	}
}

// Export processes targets in order. A failing target never stops the run;
// only ctx cancellation does, and the targets left over are reported as
// cancelled rather than errored.
func (e *Exporter) Export(ctx context.Context, targets []models.DownloadTarget) Report {
	base := e.orch.stats.Snapshot()
	report := Report{Outcomes: make([]models.TargetOutcome, 0, len(targets))}

	for i, target := range targets {
		if err := e.limiter.Wait(ctx); err != nil {
			report.cancelRest(targets[i:])
			break
		}

		var outcome models.TargetOutcome
		if err := storage.EnsureDir(target.Dir); err != nil {
			e.orch.stats.AddErrored()
			err = fmt.Errorf("create directory for %s: %w", target.Label(), err)
			e.logger.Error("Could not prepare export directory", "book", target.Book, "document", target.Name, "error", err)
			outcome = models.TargetOutcome{
				Target: target,
				Result: models.CommitResult{Outcome: models.OutcomeFailed, Path: target.FinalPath(), Err: err},
				Err:    err,
			}
		} else {
			outcome, _ = e.orch.Run(ctx, target)
		}

		e.recordOutcome(outcome)
		report.Outcomes = append(report.Outcomes, outcome)

		if ctx.Err() != nil {
			report.cancelRest(targets[i+1:])
			break
		}
	}

	report.Stats = e.orch.stats.Snapshot().Sub(base)
	e.logger.Info("Export finished",
		"written", report.Stats.Written,
		"skipped_unchanged", report.Stats.SkippedUnchanged,
		"errors", report.Stats.Errored,
		"cancelled", report.Cancelled)
	return report
}

func (r *Report) cancelRest(rest []models.DownloadTarget) {
	for _, target := range rest {
		r.Outcomes = append(r.Outcomes, models.TargetOutcome{
			Target: target,
			Result: models.CommitResult{Outcome: models.OutcomeFailed, Path: target.FinalPath(), Err: ErrCancelled},
			Err:    ErrCancelled,
		})
		r.Cancelled++
	}
}

func (e *Exporter) recordOutcome(outcome models.TargetOutcome) {
	rec := e.orch.opts.Recorder
	if rec == nil {
		return
	}
	if err := rec.RecordOutcome(outcome); err != nil {
		e.logger.Warn("Failed to record document outcome", "book", outcome.Target.Book, "document", outcome.Target.Name, "error", err)
	}
}
