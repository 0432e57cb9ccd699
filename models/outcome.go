package models

// TargetOutcome is the terminal record of one target after all attempts.
type TargetOutcome struct {
	Target   DownloadTarget
	Result   CommitResult
	Attempts int
	Err      error // Set when the target was not exported
}

// Status collapses the outcome into the label used in summaries and history.
func (o TargetOutcome) Status() string {
	if o.Err != nil || !o.Result.Succeeded() {
		return OutcomeFailed.String()
	}
	return o.Result.Outcome.String()
}
