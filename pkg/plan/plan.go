// Package plan loads the list of documents to export. The list is produced by
// the knowledge-base tree walker; this package only parses and validates it.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/kb-export/models"
)

// File is the on-disk shape of a target list.
type File struct {
	Targets []models.DownloadTarget `yaml:"targets"`
}

// Load reads a YAML target list. Directories are returned as written, relative
// to the export root; call Resolve before using them.
func Load(path string) ([]models.DownloadTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target list: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML target list.
func Parse(data []byte) ([]models.DownloadTarget, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse target list: %w", err)
	}
	return f.Targets, nil
}

// Resolve validates entries and anchors each directory at root. Every problem
// found is reported, joined into one error.
func Resolve(root string, entries []models.DownloadTarget) ([]models.DownloadTarget, error) {
	root = filepath.Clean(root)
	resolved := make([]models.DownloadTarget, 0, len(entries))
	seen := make(map[string]int, len(entries))
	var errs []error

	for i, entry := range entries {
		n := i + 1
		if strings.TrimSpace(entry.Book) == "" {
			errs = append(errs, fmt.Errorf("target %d: book is required", n))
		}
		if strings.TrimSpace(entry.Name) == "" {
			errs = append(errs, fmt.Errorf("target %d: name is required", n))
		}
		if strings.TrimSpace(entry.URL) == "" {
			errs = append(errs, fmt.Errorf("target %d: url is required", n))
		}

		dir := entry.Dir
		if dir == "" {
			dir = entry.Book
		}
		if filepath.IsAbs(dir) || !filepath.IsLocal(dir) {
			errs = append(errs, fmt.Errorf("target %d: dir %q must be a relative path inside the export root", n, entry.Dir))
			continue
		}

		entry.Dir = filepath.Join(root, dir)
		if prev, ok := seen[entry.FinalPath()]; ok {
			errs = append(errs, fmt.Errorf("target %d: %s is also written by target %d", n, entry.FinalPath(), prev))
			continue
		}
		seen[entry.FinalPath()] = n
		resolved = append(resolved, entry)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resolved, nil
}

// LoadResolved is Load followed by Resolve.
func LoadResolved(path, root string) ([]models.DownloadTarget, error) {
	entries, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Resolve(root, entries)
}
