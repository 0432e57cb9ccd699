// Package exporter drives download attempts for export targets: it triggers
// a download, waits for the watcher to confirm and commit it, and retries the
// whole cycle a bounded number of times.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/stats"
	"github.com/dtnitsch/kb-export/pkg/storage"
	"github.com/dtnitsch/kb-export/pkg/watcher"
)

// DefaultMaxRetries is the number of attempts made after the first one.
const DefaultMaxRetries = 3

// Trigger starts an asynchronous download of a target into target.Dir.
// Calling it again for the same target must be safe.
type Trigger interface {
	TriggerDownload(ctx context.Context, target models.DownloadTarget) error
}

// Canceler is implemented by triggers that can abandon a download still in
// flight. The orchestrator cancels after every failed attempt, before stale
// files are cleared, so a late download cannot land between attempts.
type Canceler interface {
	CancelDownload(target models.DownloadTarget)
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, target models.DownloadTarget) error

func (f TriggerFunc) TriggerDownload(ctx context.Context, target models.DownloadTarget) error {
	return f(ctx, target)
}

// Recorder persists attempts and outcomes. Implementations should not block
// for long; errors are logged and otherwise ignored.
type Recorder interface {
	RecordAttempt(target models.DownloadTarget, attempt int, attemptErr error) error
	RecordOutcome(outcome models.TargetOutcome) error
}

// Options configures an Orchestrator.
type Options struct {
	// MaxRetries counts additional attempts after the first one.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	Logger     *slog.Logger
	Recorder   Recorder
}

// DefaultOptions returns the reference retry behaviour: up to four attempts,
// no pause between them.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries}
}

// TargetError is returned when a target could not be exported.
type TargetError struct {
	Target   models.DownloadTarget
	Attempts int
	Err      error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.Target.Label(), e.Attempts, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// Orchestrator runs the trigger/watch cycle for one target at a time.
type Orchestrator struct {
	trigger Trigger
	watcher *watcher.Watcher
	stats   *stats.RunStatistics
	opts    Options
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(trigger Trigger, w *watcher.Watcher, st *stats.RunStatistics, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if st == nil {
		st = stats.New()
	}
	return &Orchestrator{
		trigger: trigger,
		watcher: w,
		stats:   st,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Run exports one target. A failed attempt is abandoned and redone from the
// trigger, up to MaxRetries more times. When every attempt fails the errored
// counter is incremented once and a *TargetError is returned; failures never
// escape as panics or abort the caller's run.
func (o *Orchestrator) Run(ctx context.Context, target models.DownloadTarget) (models.TargetOutcome, error) {
	outcome := models.TargetOutcome{Target: target}
	logger := o.logger.With("book", target.Book, "document", target.Name)

	var lastErr error
	operation := func() error {
		outcome.Attempts++
		if outcome.Attempts > 1 {
			if err := watcher.ClearStale(target.Dir, target.FileName()); err != nil {
				logger.Warn("Could not clear previous download state", "error", err)
			}
		}

		result, err := o.attempt(ctx, target, outcome.Attempts, logger)
		o.recordAttempt(target, outcome.Attempts, err, logger)
		if err != nil {
			lastErr = err
			logger.Info("Download attempt failed", "attempt", outcome.Attempts, "error", err)
			if c, ok := o.trigger.(Canceler); ok {
				c.CancelDownload(target)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		outcome.Result = result
		return nil
	}

	err := backoff.RetryNotify(operation, o.backOff(ctx), func(err error, next time.Duration) {
		logger.Info("Retrying download", "retry", outcome.Attempts, "max_retries", o.opts.MaxRetries, "delay", next)
	})
	if err == nil {
		return outcome, nil
	}
	if lastErr == nil {
		lastErr = err
	}

	o.stats.AddErrored()
	targetErr := &TargetError{Target: target, Attempts: outcome.Attempts, Err: lastErr}
	outcome.Result = models.CommitResult{Outcome: models.OutcomeFailed, Path: target.FinalPath(), Err: lastErr}
	outcome.Err = targetErr
	logger.Error("Download error after retries", "retries", outcome.Attempts-1, "error", lastErr)
	return outcome, targetErr
}

func (o *Orchestrator) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if o.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.RetryDelay), uint64(o.opts.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// attempt arms the watcher before triggering so no notification is missed.
func (o *Orchestrator) attempt(ctx context.Context, target models.DownloadTarget, n int, logger *slog.Logger) (models.CommitResult, error) {
	session, err := o.watcher.Watch(target.Dir, target.FileName())
	if err != nil {
		return models.CommitResult{}, err
	}
	defer session.Close()

	logger.Info("Waiting download document", "path", target.FinalPath(), "attempt", n, "timeout", o.watcher.Timeout())
	if err := o.trigger.TriggerDownload(ctx, target); err != nil {
		return models.CommitResult{}, fmt.Errorf("trigger download: %w", err)
	}

	result, err := session.Wait(ctx)
	if err != nil {
		return result, err
	}

	var degraded *watcher.DegradedCommitError
	if errors.As(result.Err, &degraded) {
		logger.Warn("Document kept without applying write strategy", "error", degraded)
		if fs, err := storage.GetFileStats(result.Path); err == nil {
			result.Size = fs.SizeBytes
		}
	}
	return result, nil
}

func (o *Orchestrator) recordAttempt(target models.DownloadTarget, n int, attemptErr error, logger *slog.Logger) {
	if o.opts.Recorder == nil {
		return
	}
	if err := o.opts.Recorder.RecordAttempt(target, n, attemptErr); err != nil {
		logger.Warn("Failed to record download attempt", "error", err)
	}
}
