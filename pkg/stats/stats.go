// Package stats aggregates the terminal outcomes of an export run.
package stats

import (
	"fmt"
	"sync/atomic"
)

// RunStatistics counts outcomes across one export run. Counters only ever
// increase and are safe for concurrent use.
type RunStatistics struct {
	written          atomic.Int64
	skippedUnchanged atomic.Int64
	errored          atomic.Int64
}

// Snapshot is a plain copy of the counters for reporting.
type Snapshot struct {
	Written          int64 `yaml:"written" json:"written"`
	SkippedUnchanged int64 `yaml:"skipped_unchanged" json:"skipped_unchanged"`
	Errored          int64 `yaml:"errored" json:"errored"`
}

func New() *RunStatistics {
	return &RunStatistics{}
}

func (s *RunStatistics) AddWritten()          { s.written.Add(1) }
func (s *RunStatistics) AddSkippedUnchanged() { s.skippedUnchanged.Add(1) }
func (s *RunStatistics) AddErrored()          { s.errored.Add(1) }

// Snapshot returns the current counter values.
func (s *RunStatistics) Snapshot() Snapshot {
	return Snapshot{
		Written:          s.written.Load(),
		SkippedUnchanged: s.skippedUnchanged.Load(),
		Errored:          s.errored.Load(),
	}
}

// Sub returns the per-counter difference s - base.
func (s Snapshot) Sub(base Snapshot) Snapshot {
	return Snapshot{
		Written:          s.Written - base.Written,
		SkippedUnchanged: s.SkippedUnchanged - base.SkippedUnchanged,
		Errored:          s.Errored - base.Errored,
	}
}

// String renders the summary line printed at the end of a run.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d written, %d skipped (unchanged), %d errors", s.Written, s.SkippedUnchanged, s.Errored)
}
