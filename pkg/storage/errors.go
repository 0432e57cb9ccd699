package storage

import (
	"errors"
	"fmt"
)

// ErrCommitIO matches every *CommitIOError via errors.Is.
var ErrCommitIO = errors.New("storage: commit failed")

// CommitIOError is returned when the staging write or the atomic replace of
// a commit fails. Op is "stage" or "replace".
type CommitIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CommitIOError) Error() string {
	return fmt.Sprintf("commit %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CommitIOError) Unwrap() error {
	return e.Err
}

func (e *CommitIOError) Is(target error) bool {
	return target == ErrCommitIO
}
