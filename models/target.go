package models

import (
	"path/filepath"
	"strings"
)

const (
	// DocumentExt is the extension of every exported document.
	DocumentExt = ".md"
	// MarkerSuffix is appended by the browser to a file while it downloads.
	MarkerSuffix = ".crdownload"
)

// DownloadTarget identifies one document to fetch. It is produced by the
// tree walker and never modified afterwards.
type DownloadTarget struct {
	Book string `yaml:"book" json:"book"` // Owning collection
	Name string `yaml:"name" json:"name"` // Logical document name
	Dir  string `yaml:"dir" json:"dir"`   // Destination directory
	URL  string `yaml:"url" json:"url"`   // Source URL handed to the trigger
}

// FileName returns the on-disk name of the document. Slashes in the logical
// name would otherwise create directories.
func (t DownloadTarget) FileName() string {
	return strings.ReplaceAll(t.Name, "/", "_") + DocumentExt
}

// FinalPath is where the committed document lives.
func (t DownloadTarget) FinalPath() string {
	return filepath.Join(t.Dir, t.FileName())
}

// MarkerName is the partial-download marker the browser shows while the
// document is in flight.
func (t DownloadTarget) MarkerName() string {
	return t.FileName() + MarkerSuffix
}

// Label is a short book/document identifier for logs.
func (t DownloadTarget) Label() string {
	return t.Book + "/" + t.Name
}
