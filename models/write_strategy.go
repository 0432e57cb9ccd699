package models

// WriteStrategy governs whether an unchanged payload is rewritten on commit.
type WriteStrategy string

const (
	// WriteStrategySkipUnchanged leaves the destination untouched when its
	// content digest matches the new payload.
	WriteStrategySkipUnchanged WriteStrategy = "skip-unchanged"

	// WriteStrategyOverwrite always replaces the destination.
	WriteStrategyOverwrite WriteStrategy = "overwrite"

	DefaultWriteStrategy = WriteStrategySkipUnchanged
)

// ParseWriteStrategy maps a configuration value to a WriteStrategy.
// An empty value yields the default. The boolean is false when the value is
// not recognised, in which case the default is returned.
func ParseWriteStrategy(raw string) (WriteStrategy, bool) {
	switch WriteStrategy(raw) {
	case "":
		return DefaultWriteStrategy, true
	case WriteStrategySkipUnchanged, WriteStrategyOverwrite:
		return WriteStrategy(raw), true
	}
	return DefaultWriteStrategy, false
}

func (s WriteStrategy) String() string {
	return string(s)
}
