// Package fetcher downloads documents over HTTP the way a browser does: the
// body is streamed into <file>.crdownload and renamed to <file> once complete.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"github.com/dtnitsch/kb-export/models"
)

// UnexpectedPageError is returned when the server answers with an HTML page
// (usually a login or error page) instead of the document.
type UnexpectedPageError struct {
	URL   string
	Title string
}

func (e *UnexpectedPageError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("expected markdown from %s, got an HTML page", e.URL)
	}
	return fmt.Sprintf("expected markdown from %s, got HTML page %q", e.URL, e.Title)
}

// HTTPTrigger starts downloads in the background. At most one download per
// destination runs at a time: triggering a target again abandons the one in
// flight and starts over, so only the newest download can land.
type HTTPTrigger struct {
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*download
	wg       sync.WaitGroup
}

type download struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHTTPTrigger creates a trigger using client, or a default client if nil.
func NewHTTPTrigger(client *http.Client, logger *slog.Logger) *HTTPTrigger {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTrigger{
		client:   client,
		logger:   logger,
		inflight: make(map[string]*download),
	}
}

// TriggerDownload begins downloading target.URL into target.Dir and returns
// without waiting. Failures are logged; the caller learns about the download
// only through the files it produces.
func (h *HTTPTrigger) TriggerDownload(ctx context.Context, target models.DownloadTarget) error {
	if target.URL == "" {
		return fmt.Errorf("no URL for %s", target.Label())
	}

	key := target.FinalPath()
	dctx, cancel := context.WithCancel(ctx)
	d := &download{cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	prev := h.inflight[key]
	h.inflight[key] = d
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer close(d.done)
		defer cancel()
		defer h.release(key, d)

		// The previous download shares the marker name; it must be gone
		// before this one creates it.
		if prev != nil {
			h.logger.Info("Restarting download", "path", key)
			prev.cancel()
			<-prev.done
		}

		if err := h.Download(dctx, target); err != nil {
			if dctx.Err() != nil {
				h.logger.Debug("download abandoned", "path", key, "error", err)
				return
			}
			h.logger.Warn("Download failed", "url", target.URL, "path", key, "error", err)
		}
	}()
	return nil
}

// CancelDownload abandons the download of target, if one is in flight, and
// waits until its partial file is gone.
func (h *HTTPTrigger) CancelDownload(target models.DownloadTarget) {
	key := target.FinalPath()
	h.mu.Lock()
	d := h.inflight[key]
	h.mu.Unlock()
	if d == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (h *HTTPTrigger) release(key string, d *download) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight[key] == d {
		delete(h.inflight, key)
	}
}

// Wait blocks until every started download has finished.
func (h *HTTPTrigger) Wait() {
	h.wg.Wait()
}

// Download fetches target synchronously, leaving either the finished file or
// nothing behind.
func (h *HTTPTrigger) Download(ctx context.Context, target models.DownloadTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch document, status code: %d", resp.StatusCode)
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		title, _ := PageTitle(resp.Body)
		return &UnexpectedPageError{URL: target.URL, Title: title}
	}

	marker := filepath.Join(target.Dir, target.MarkerName())
	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("failed to create partial download: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(marker)
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(marker)
		return err
	}

	if err := os.Rename(marker, target.FinalPath()); err != nil {
		_ = os.Remove(marker)
		return fmt.Errorf("failed to finish download: %w", err)
	}

	h.logger.Debug("download finished", "path", target.FinalPath(), "size", humanize.Bytes(uint64(n)))
	return nil
}

// PageTitle returns the trimmed <title> of an HTML document.
func PageTitle(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html"
}
