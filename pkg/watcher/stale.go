package watcher

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/dtnitsch/kb-export/models"
)

// ClearStale removes what an abandoned download attempt of fileName may have
// left in dir: the partial marker and the watcher's own private and previous
// copies. A private copy is moved back to the final name when that name is
// free, so downloaded bytes are never discarded.
func ClearStale(dir, fileName string) error {
	final := filepath.Join(dir, fileName)

	var errs []error
	if err := os.Remove(final + models.MarkerSuffix); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := os.Remove(final + PreviousSuffix); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}

	private := final + PrivateSuffix
	if _, err := os.Stat(private); err == nil {
		if _, err := os.Stat(final); os.IsNotExist(err) {
			if err := os.Rename(private, final); err != nil {
				errs = append(errs, err)
			}
		} else if err := os.Remove(private); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
