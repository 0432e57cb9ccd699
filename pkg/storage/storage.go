package storage

import (
	"fmt"
	"os"
	"time"
)

const (
	// StagingSuffix marks the sibling file a payload is written to before it
	// is renamed over its final name.
	StagingSuffix = ".tmp"

	filePerm = 0644
	dirPerm  = 0755
)

// FileStats holds metadata about a file without reading its contents.
type FileStats struct {
	SizeBytes int64
	ModTime   time.Time
}

// StagingPath returns the staging name used while committing path.
func StagingPath(path string) string {
	return path + StagingSuffix
}

// WriteFileAtomic writes content to a staging sibling of filePath and renames
// it into place, so readers see either the old file or the new one.
func WriteFileAtomic(filePath string, content []byte) error {
	return writeAtomic(filePath, content, os.Rename)
}

func writeAtomic(filePath string, content []byte, rename func(string, string) error) error {
	staging := StagingPath(filePath)

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return &CommitIOError{Op: "stage", Path: filePath, Err: err}
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return &CommitIOError{Op: "stage", Path: filePath, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return &CommitIOError{Op: "stage", Path: filePath, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return &CommitIOError{Op: "stage", Path: filePath, Err: err}
	}

	if err := rename(staging, filePath); err != nil {
		_ = os.Remove(staging)
		return &CommitIOError{Op: "replace", Path: filePath, Err: err}
	}
	return nil
}

// ReadFile reads a whole file.
func ReadFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return data, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// HasFile reports whether something exists at fn.
func HasFile(fn string) bool {
	return fileExists(fn)
}

// GetFileStats returns the size and modification time of a file.
func GetFileStats(filePath string) (*FileStats, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("error getting file stats: %w", err)
	}

	return &FileStats{
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
