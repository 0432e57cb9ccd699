// Package models defines data structures shared across the exporter.
package models

import "time"

// ExportConfig holds runtime configuration for an export run.
// Values come from CLI flags, which fall back to EXPORT_* environment variables.
type ExportConfig struct {
	ExportPath  string
	TargetsPath string
	Strategy    WriteStrategy
	MaxRetries  int
	Timeout     time.Duration
	RetryDelay  time.Duration
	Pace        time.Duration // Minimum gap between download triggers, 0 = none
	DBPath      string
	NoHistory   bool
}
