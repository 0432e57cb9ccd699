package watcher

import (
	"errors"
	"fmt"
)

// ErrDownloadTimeout is returned when no completion was observed before the
// deadline.
var ErrDownloadTimeout = errors.New("download timed out")

// EventError reports a failure of the directory event source itself.
type EventError struct {
	Dir string
	Err error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Dir, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// DegradedCommitError describes a download that finished but whose write
// strategy could not be applied. When Restored is true the downloaded bytes
// are in place under the final name.
type DegradedCommitError struct {
	Op       string // relocate, read or commit
	Path     string
	Restored bool
	Err      error
}

func (e *DegradedCommitError) Error() string {
	if e.Restored {
		return fmt.Sprintf("%s %s: %v (download kept as is)", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v (download lost)", e.Op, e.Path, e.Err)
}

func (e *DegradedCommitError) Unwrap() error {
	return e.Err
}
