package storage

import (
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/digest"
	"github.com/dtnitsch/kb-export/pkg/stats"
)

// Writer commits downloaded payloads to their final path according to a
// write strategy. Every Commit call increments exactly one statistics counter.
type Writer struct {
	strategy models.WriteStrategy
	stats    *stats.RunStatistics
	logger   *slog.Logger

	rename func(oldpath, newpath string) error
}

// NewWriter creates a Writer. A nil logger uses slog.Default().
func NewWriter(strategy models.WriteStrategy, st *stats.RunStatistics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = stats.New()
	}
	return &Writer{
		strategy: strategy,
		stats:    st,
		logger:   logger,
		rename:   os.Rename,
	}
}

// Commit makes payload the content of path.
//
// Under skip-unchanged, an existing file with the same digest is left alone
// and no write happens. Otherwise the payload is staged next to path and
// renamed over it. On failure the returned error is a *CommitIOError.
func (w *Writer) Commit(path string, payload []byte) (models.CommitResult, error) {
	sum := digest.Of(payload)
	result := models.CommitResult{
		Path:   path,
		Size:   int64(len(payload)),
		Digest: sum.String(),
	}

	if w.strategy == models.WriteStrategySkipUnchanged && HasFile(path) {
		existing, err := ReadFile(path)
		if err != nil {
			// Can't prove the content is identical, so write it.
			w.logger.Warn("Could not read existing document, rewriting", "path", path, "error", err)
		} else if digest.Of(existing) == sum {
			w.stats.AddSkippedUnchanged()
			result.Outcome = models.OutcomeSkippedUnchanged
			w.logger.Info("Skipped (unchanged)", "path", path, "digest", sum.Short())
			return result, nil
		}
	}

	if err := writeAtomic(path, payload, w.rename); err != nil {
		w.stats.AddErrored()
		result.Outcome = models.OutcomeFailed
		result.Err = err
		w.logger.Error("Error writing document", "path", path, "error", err)
		return result, err
	}

	w.stats.AddWritten()
	result.Outcome = models.OutcomeWritten
	w.logger.Info("Written", "path", path, "size", humanize.Bytes(uint64(len(payload))), "digest", sum.Short())
	return result, nil
}
