package manifest

// SummaryManifest is the YAML record of one export run.
// It mirrors the summary line printed at the end of the run and adds the
// per-document results behind it.
type SummaryManifest struct {
	RunID      string            `yaml:"run_id"`
	StartedAt  string            `yaml:"started_at"`
	FinishedAt string            `yaml:"finished_at"`
	ExportPath string            `yaml:"export_path"`
	Strategy   string            `yaml:"write_strategy"`
	Summary    string            `yaml:"summary"`
	Written    int64             `yaml:"written"`
	Skipped    int64             `yaml:"skipped_unchanged"`
	Errored    int64             `yaml:"errored"`
	Cancelled  int               `yaml:"cancelled,omitempty"`
	TotalSize  string            `yaml:"total_size,omitempty"`
	Documents  []DocumentSummary `yaml:"documents"`
}

// DocumentSummary is the outcome of a single target.
type DocumentSummary struct {
	Book         string `yaml:"book"`
	Name         string `yaml:"name"`
	Path         string `yaml:"path"` // Relative to the export root
	Status       string `yaml:"status"`
	Attempts     int    `yaml:"attempts,omitempty"`
	Digest       string `yaml:"digest,omitempty"`
	Size         string `yaml:"size,omitempty"`
	ErrorMessage string `yaml:"error_message,omitempty"`
}
