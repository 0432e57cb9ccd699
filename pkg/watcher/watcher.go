// Package watcher observes a directory for the on-disk lifecycle of one
// browser download and commits the finished file.
//
// A download is considered started once its partial marker
// (<file>.crdownload) shows up or goes away, and finished once <file> appears
// afterwards. The finished file is moved to a private name before it is read,
// so no later notification can make it look like a fresh download.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/stats"
)

const (
	// DefaultTimeout bounds the time from the start of monitoring to the
	// completion notification.
	DefaultTimeout = 10 * time.Second

	// PrivateSuffix names the file a finished download is moved to while it
	// is being committed.
	PrivateSuffix = ".download"

	// PreviousSuffix names a hard link to the document as it was before the
	// download started.
	PreviousSuffix = ".previous"
)

// Committer applies the write strategy to a finished payload.
type Committer interface {
	Commit(path string, payload []byte) (models.CommitResult, error)
}

// Options configures a Watcher.
type Options struct {
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger

	// Stats receives an errored increment when a finished download cannot be
	// relocated or read.
	Stats *stats.RunStatistics

	// NewSource defaults to NewFSSource.
	NewSource SourceFunc
}

// Watcher creates one Session per watched download.
type Watcher struct {
	committer Committer
	opts      Options
}

// New creates a Watcher committing through c.
func New(c Committer, opts Options) *Watcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.NewSource == nil {
		opts.NewSource = NewFSSource
	}
	return &Watcher{committer: c, opts: opts}
}

// Timeout returns the per-session deadline.
func (w *Watcher) Timeout() time.Duration {
	return w.opts.Timeout
}

// Session tracks one download of fileName inside dir.
type Session struct {
	w        *Watcher
	dir      string
	fileName string
	source   Source
	deadline *time.Timer
	logger   *slog.Logger

	hasPrevious bool

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	closeErr  error
}

// Watch starts monitoring dir for fileName. The deadline starts now, so Watch
// must be called before the download is triggered.
func (w *Watcher) Watch(dir, fileName string) (*Session, error) {
	source, err := w.opts.NewSource(dir)
	if err != nil {
		return nil, &EventError{Dir: dir, Err: err}
	}

	s := &Session{
		w:        w,
		dir:      dir,
		fileName: fileName,
		source:   source,
		logger:   w.opts.Logger.With("dir", dir, "file", fileName),
		state:    Idle,
	}
	s.keepPrevious()
	s.deadline = time.NewTimer(w.opts.Timeout)
	s.setState(AwaitingStart)
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug("watch state", "from", prev.String(), "to", next.String())
	}
}

// Close stops observing the directory. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.deadline.Stop()
		s.closeErr = s.source.Close()
	})
	return s.closeErr
}

func (s *Session) finalPath() string    { return filepath.Join(s.dir, s.fileName) }
func (s *Session) privatePath() string  { return s.finalPath() + PrivateSuffix }
func (s *Session) previousPath() string { return s.finalPath() + PreviousSuffix }

// Wait blocks until the download completes, the deadline passes, the event
// source fails, or ctx is done. The directory watch is released on every path.
//
// A finished download whose write strategy could not be applied but whose
// bytes are in place is reported as an OutcomeDegraded result with a nil error.
func (s *Session) Wait(ctx context.Context) (models.CommitResult, error) {
	defer s.Close()

	if st := s.State(); st != AwaitingStart {
		return models.CommitResult{}, fmt.Errorf("watch session for %s is %s", s.fileName, st)
	}

	marker := s.fileName + models.MarkerSuffix
	events := s.source.Events()
	errs := s.source.Errors()

	for {
		select {
		case <-ctx.Done():
			s.abandon(Failed)
			return failedResult(s.finalPath(), ctx.Err()), ctx.Err()

		case <-s.deadline.C:
			s.abandon(TimedOut)
			err := fmt.Errorf("%w after %s waiting for %s", ErrDownloadTimeout, s.w.opts.Timeout, s.fileName)
			return failedResult(s.finalPath(), err), err

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.abandon(Failed)
			eventErr := &EventError{Dir: s.dir, Err: err}
			return failedResult(s.finalPath(), eventErr), eventErr

		case ev, ok := <-events:
			if !ok {
				s.abandon(Failed)
				eventErr := &EventError{Dir: s.dir, Err: errors.New("event source closed")}
				return failedResult(s.finalPath(), eventErr), eventErr
			}

			switch state := s.State(); {
			case ev.Name == marker && ev.Kind != Modified && state == AwaitingStart:
				s.setState(AwaitingCompletion)
				s.logger.Info("Downloading document")
			case ev.Name == s.fileName && ev.Kind == Appeared && state == AwaitingCompletion:
				_ = s.Close()
				return s.complete()
			default:
				s.logger.Debug("ignored event", "name", ev.Name, "kind", ev.Kind.String(), "state", state.String())
			}
		}
	}
}

// complete moves the finished file to its private name, reads it and commits
// it under the final name.
func (s *Session) complete() (models.CommitResult, error) {
	final, private := s.finalPath(), s.privatePath()

	if err := os.Rename(final, private); err != nil {
		s.w.opts.Stats.AddErrored()
		return s.degrade("relocate", err)
	}

	payload, err := os.ReadFile(private)
	if err != nil {
		s.w.opts.Stats.AddErrored()
		return s.degrade("read", err)
	}

	s.restorePrevious()

	result, err := s.w.committer.Commit(final, payload)
	if err != nil {
		// The committer has already counted this failure.
		return s.degrade("commit", err)
	}

	if err := os.Remove(private); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Could not remove private download copy", "path", private, "error", err)
	}
	s.setState(Completed)
	return result, nil
}

// degrade keeps the downloaded bytes under the final name when possible.
// The error is nil only when the bytes were put back.
func (s *Session) degrade(op string, cause error) (models.CommitResult, error) {
	s.setState(Failed)
	s.dropPrevious()

	final, private := s.finalPath(), s.privatePath()
	restored := false
	if _, err := os.Stat(private); err == nil {
		if err := os.Rename(private, final); err != nil {
			s.logger.Error("Could not restore downloaded document", "path", final, "error", err)
		} else {
			restored = true
		}
	} else {
		_, statErr := os.Stat(final)
		restored = statErr == nil
	}

	degradedErr := &DegradedCommitError{Op: op, Path: final, Restored: restored, Err: cause}
	if !restored {
		s.logger.Error("Error applying write strategy", "error", degradedErr)
		return failedResult(final, degradedErr), degradedErr
	}

	s.logger.Warn("Error applying write strategy, kept downloaded document", "error", degradedErr)
	return models.CommitResult{
		Outcome: models.OutcomeDegraded,
		Path:    final,
		Err:     degradedErr,
	}, nil
}

func (s *Session) abandon(state State) {
	_ = s.Close()
	s.dropPrevious()
	s.setState(state)
}

// keepPrevious hard-links the current document, if any, so its content
// survives a download that replaces the final name.
func (s *Session) keepPrevious() {
	previous := s.previousPath()
	_ = os.Remove(previous)
	if err := os.Link(s.finalPath(), previous); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Could not keep previous version, unchanged documents will be rewritten", "path", previous, "error", err)
		}
		return
	}
	s.hasPrevious = true
}

// restorePrevious puts the pre-download document back under the final name so
// the committer compares the new payload against it.
func (s *Session) restorePrevious() {
	if !s.hasPrevious {
		return
	}
	s.hasPrevious = false
	if err := os.Rename(s.previousPath(), s.finalPath()); err != nil {
		s.logger.Debug("previous version not restored", "error", err)
		_ = os.Remove(s.previousPath())
	}
}

func (s *Session) dropPrevious() {
	if !s.hasPrevious {
		return
	}
	s.hasPrevious = false
	_ = os.Remove(s.previousPath())
}

func failedResult(path string, err error) models.CommitResult {
	return models.CommitResult{Outcome: models.OutcomeFailed, Path: path, Err: err}
}
