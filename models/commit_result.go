package models

// CommitOutcome is the terminal outcome of one commit attempt.
type CommitOutcome int

const (
	OutcomeFailed CommitOutcome = iota
	OutcomeWritten
	OutcomeSkippedUnchanged
	// OutcomeDegraded means the download finished and its bytes are in place
	// under the final name, but the write strategy could not be applied.
	OutcomeDegraded
)

func (o CommitOutcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeSkippedUnchanged:
		return "skipped_unchanged"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// CommitResult describes what happened to one payload.
type CommitResult struct {
	Outcome CommitOutcome
	Path    string
	Size    int64
	Digest  string
	Err     error // Set for OutcomeFailed and OutcomeDegraded
}

// Succeeded reports whether the document content is in place, which is the
// case for every outcome except OutcomeFailed.
func (r CommitResult) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}
