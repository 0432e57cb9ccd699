package exporter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/fetcher"
	"github.com/dtnitsch/kb-export/pkg/stats"
	"github.com/dtnitsch/kb-export/pkg/storage"
	"github.com/dtnitsch/kb-export/pkg/watcher"
)

type fakeSource struct {
	events chan watcher.Event
	errs   chan error
}

func (f *fakeSource) Events() <-chan watcher.Event { return f.events }
func (f *fakeSource) Errors() <-chan error         { return f.errs }
func (f *fakeSource) Close() error                 { return nil }

// fakeBrowser performs a download on disk and reports it to the most recently
// opened source.
type fakeBrowser struct {
	t       *testing.T
	mu      sync.Mutex
	current *fakeSource
	calls   int
}

func (b *fakeBrowser) newSource(dir string) (watcher.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = &fakeSource{events: make(chan watcher.Event, 16), errs: make(chan error, 1)}
	return b.current, nil
}

func (b *fakeBrowser) download(target models.DownloadTarget, content string) {
	b.t.Helper()
	marker := filepath.Join(target.Dir, target.MarkerName())
	if err := os.WriteFile(marker, []byte(content), 0644); err != nil {
		b.t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Rename(marker, target.FinalPath()); err != nil {
		b.t.Fatalf("Rename() error = %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current.events <- watcher.Event{Name: target.MarkerName(), Kind: watcher.Appeared}
	b.current.events <- watcher.Event{Name: target.MarkerName(), Kind: watcher.Vanished}
	b.current.events <- watcher.Event{Name: target.FileName(), Kind: watcher.Appeared}
}

type recordedAttempt struct {
	attempt int
	err     error
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []recordedAttempt
	outcomes []models.TargetOutcome
}

func (r *memRecorder) RecordAttempt(target models.DownloadTarget, attempt int, attemptErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, recordedAttempt{attempt: attempt, err: attemptErr})
	return nil
}

func (r *memRecorder) RecordOutcome(outcome models.TargetOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

func newTestOrchestrator(t *testing.T, trigger Trigger, newSource watcher.SourceFunc, timeout time.Duration, maxRetries int, rec Recorder) (*Orchestrator, *stats.RunStatistics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := stats.New()
	w := watcher.New(storage.NewWriter(models.WriteStrategySkipUnchanged, st, logger), watcher.Options{
		Timeout:   timeout,
		Logger:    logger,
		Stats:     st,
		NewSource: newSource,
	})
	var opts Options
	opts.MaxRetries = maxRetries
	opts.Logger = logger
	if rec != nil {
		opts.Recorder = rec
	}
	return NewOrchestrator(trigger, w, st, opts), st
}

func testTarget(root string) models.DownloadTarget {
	return models.DownloadTarget{
		Book: "Guide",
		Name: "Intro",
		Dir:  filepath.Join(root, "Guide"),
		URL:  "https://kb.example.com/u/guide/intro/markdown",
	}
}

func TestRun_SucceedsOnThirdAttempt(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		if browser.calls < 3 {
			return nil // nothing ever arrives, the attempt times out
		}
		browser.download(tg, "# Intro\n")
		return nil
	})
	rec := &memRecorder{}
	orch, st := newTestOrchestrator(t, trigger, browser.newSource, 30*time.Millisecond, 3, rec)

	outcome, err := orch.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", outcome.Attempts)
	}
	if outcome.Result.Outcome != models.OutcomeWritten {
		t.Errorf("Outcome = %v, want written", outcome.Result.Outcome)
	}

	snap := st.Snapshot()
	if snap.Written != 1 || snap.Errored != 0 {
		t.Errorf("stats = %+v, want 1 written and no errors", snap)
	}

	if len(rec.attempts) != 3 {
		t.Fatalf("recorded %d attempts, want 3", len(rec.attempts))
	}
	if !errors.Is(rec.attempts[0].err, watcher.ErrDownloadTimeout) {
		t.Errorf("first attempt error = %v, want timeout", rec.attempts[0].err)
	}
	if rec.attempts[2].err != nil {
		t.Errorf("third attempt error = %v, want nil", rec.attempts[2].err)
	}
}

func TestRun_ExhaustsRetries(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		return nil
	})
	orch, st := newTestOrchestrator(t, trigger, browser.newSource, 20*time.Millisecond, 2, nil)

	outcome, err := orch.Run(context.Background(), target)
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}

	var targetErr *TargetError
	if !errors.As(err, &targetErr) {
		t.Fatalf("error type = %T, want *TargetError", err)
	}
	if targetErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", targetErr.Attempts)
	}
	if !errors.Is(err, watcher.ErrDownloadTimeout) {
		t.Errorf("error = %v, want wrapped timeout", err)
	}
	if browser.calls != 3 {
		t.Errorf("trigger calls = %d, want 3", browser.calls)
	}
	if got := st.Snapshot().Errored; got != 1 {
		t.Errorf("errored = %d, want 1", got)
	}
	if outcome.Status() != "failed" {
		t.Errorf("Status() = %q, want failed", outcome.Status())
	}
}

func TestRun_ZeroRetriesTriesOnce(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		return nil
	})
	orch, _ := newTestOrchestrator(t, trigger, browser.newSource, 10*time.Millisecond, 0, nil)

	if _, err := orch.Run(context.Background(), target); err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if browser.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", browser.calls)
	}
}

func TestRun_TriggerErrorIsRetried(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		if browser.calls == 1 {
			return errors.New("browser busy")
		}
		browser.download(tg, "# Intro\n")
		return nil
	})
	orch, st := newTestOrchestrator(t, trigger, browser.newSource, time.Second, 3, nil)

	outcome, err := orch.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
	if got := st.Snapshot().Written; got != 1 {
		t.Errorf("written = %d, want 1", got)
	}
}

func TestRun_ClearsStaleStateBeforeRetry(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(target.Dir, target.MarkerName())
	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		if browser.calls == 1 {
			// A partial download that never finishes.
			return os.WriteFile(marker, []byte("# In"), 0644)
		}
		if _, err := os.Stat(marker); !os.IsNotExist(err) {
			t.Errorf("stale marker still present on retry: %v", err)
		}
		browser.download(tg, "# Intro\n")
		return nil
	})
	orch, _ := newTestOrchestrator(t, trigger, browser.newSource, 20*time.Millisecond, 1, nil)

	if _, err := orch.Run(context.Background(), target); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_CancelStopsRetrying(t *testing.T) {
	target := testTarget(t.TempDir())
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		browser.calls++
		cancel()
		return nil
	})
	orch, st := newTestOrchestrator(t, trigger, browser.newSource, time.Minute, 3, nil)

	_, err := orch.Run(ctx, target)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if browser.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", browser.calls)
	}
	if got := st.Snapshot().Errored; got != 1 {
		t.Errorf("errored = %d, want 1", got)
	}
}

func TestExport_EndToEnd(t *testing.T) {
	root := t.TempDir()
	target := testTarget(root)

	// A browser stand-in that downloads in the background, like a real one.
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		go func() {
			marker := filepath.Join(tg.Dir, tg.MarkerName())
			if err := os.WriteFile(marker, []byte("# Intro\n"), 0644); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
			_ = os.Rename(marker, tg.FinalPath())
		}()
		return nil
	})
	rec := &memRecorder{}
	orch, _ := newTestOrchestrator(t, trigger, nil, 5*time.Second, 3, rec)

	report := NewExporter(orch, 0).Export(context.Background(), []models.DownloadTarget{target})

	if report.Stats.Written != 1 || report.Stats.Errored != 0 {
		t.Fatalf("Stats = %+v, want 1 written", report.Stats)
	}
	got, err := os.ReadFile(filepath.Join(root, "Guide", "Intro.md"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "# Intro\n" {
		t.Errorf("content = %q, want %q", got, "# Intro\n")
	}
	for _, leftover := range []string{"Intro.md.crdownload", "Intro.md.download", "Intro.md.tmp", "Intro.md.previous"} {
		if _, err := os.Stat(filepath.Join(root, "Guide", leftover)); !os.IsNotExist(err) {
			t.Errorf("%s left behind", leftover)
		}
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].Status() != "written" {
		t.Errorf("recorded outcomes = %+v, want one written", rec.outcomes)
	}
}

func TestExport_ContinuesAfterFailure(t *testing.T) {
	root := t.TempDir()
	bad := models.DownloadTarget{Book: "Guide", Name: "Broken", Dir: filepath.Join(root, "Guide"), URL: "u1"}
	good := models.DownloadTarget{Book: "Guide", Name: "Intro", Dir: filepath.Join(root, "Guide"), URL: "u2"}

	browser := &fakeBrowser{t: t}
	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		if tg.Name == "Broken" {
			return errors.New("404")
		}
		browser.download(tg, "# Intro\n")
		return nil
	})
	orch, _ := newTestOrchestrator(t, trigger, browser.newSource, time.Second, 1, nil)

	report := NewExporter(orch, 0).Export(context.Background(), []models.DownloadTarget{bad, good})

	if len(report.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(report.Outcomes))
	}
	if report.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", report.Failed())
	}
	if report.Stats.Written != 1 || report.Stats.Errored != 1 {
		t.Errorf("Stats = %+v, want 1 written and 1 error", report.Stats)
	}
}

func TestExport_CancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trigger := TriggerFunc(func(ctx context.Context, tg models.DownloadTarget) error {
		t.Fatal("trigger called after cancellation")
		return nil
	})
	orch, _ := newTestOrchestrator(t, trigger, (&fakeBrowser{t: t}).newSource, time.Second, 3, nil)

	targets := []models.DownloadTarget{testTarget(root), testTarget(root)}
	report := NewExporter(orch, 0).Export(ctx, targets)

	if report.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2", report.Cancelled)
	}
	if report.Failed() != 0 || report.Stats.Errored != 0 {
		t.Errorf("cancelled targets counted as failures: %+v", report.Stats)
	}
}

// stallingServer holds its first response until the client goes away or
// stall passes, and answers every later request at once.
func stallingServer(t *testing.T, stall time.Duration, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(stall):
			}
		}
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRun_HTTPTriggerRedoesStalledDownload(t *testing.T) {
	srv, hits := stallingServer(t, 450*time.Millisecond, "# Intro\n")

	target := testTarget(t.TempDir())
	target.URL = srv.URL + "/intro"
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	trigger := fetcher.NewHTTPTrigger(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	orch, st := newTestOrchestrator(t, trigger, nil, 300*time.Millisecond, 1, nil)

	outcome, err := orch.Run(context.Background(), target)
	trigger.Wait()
	if err != nil {
		t.Fatalf("Run() error = %v (server hits %d)", err, hits.Load())
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}

	snap := st.Snapshot()
	if snap.Written != 1 || snap.Errored != 0 {
		t.Errorf("stats = %+v, want 1 written and no errors", snap)
	}
	got, err := os.ReadFile(target.FinalPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "# Intro\n" {
		t.Errorf("content = %q, want %q", got, "# Intro\n")
	}
	if _, err := os.Stat(filepath.Join(target.Dir, target.MarkerName())); !os.IsNotExist(err) {
		t.Error("partial download marker left behind")
	}
}

func TestRun_HTTPTriggerAbandonsDownloadWhenRetriesRunOut(t *testing.T) {
	srv, hits := stallingServer(t, 5*time.Second, "# Intro\n")

	target := testTarget(t.TempDir())
	target.URL = srv.URL + "/intro"
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		t.Fatal(err)
	}

	trigger := fetcher.NewHTTPTrigger(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	orch, st := newTestOrchestrator(t, trigger, nil, 100*time.Millisecond, 0, nil)

	if _, err := orch.Run(context.Background(), target); !errors.Is(err, watcher.ErrDownloadTimeout) {
		t.Fatalf("Run() error = %v, want timeout", err)
	}

	// The stalled request was cancelled, not left to land after the run.
	done := make(chan struct{})
	go func() {
		trigger.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("download still in flight after the target failed")
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	if got := st.Snapshot().Errored; got != 1 {
		t.Errorf("errored = %d, want 1", got)
	}
	if _, err := os.Stat(target.FinalPath()); !os.IsNotExist(err) {
		t.Error("document written after the target was given up")
	}
}
