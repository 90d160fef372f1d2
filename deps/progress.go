package deps

// ProgressEvent reports progress of a cache build.
type ProgressEvent struct {
	// Stage identifies the current phase of the build.
	Stage ProgressStage

	// Tier and Source identify the archive an event is about, if any.
	Tier   Tier
	Source string

	// ArchivesDone is the number of archives decoded so far.
	ArchivesDone int

	// ArchivesTotal is the number of archives the build reads.
	ArchivesTotal int

	// Tables is the number of tables decoded from the archive.
	Tables int
}

// ProgressStage identifies the current phase of a build.
type ProgressStage uint8

const (
	// StageLoadingPersisted indicates persisted tiers are being read.
	StageLoadingPersisted ProgressStage = iota

	// StageDecoding indicates archives are being opened and decoded.
	StageDecoding

	// StageMerging indicates decoded archives are being merged into tiers.
	StageMerging

	// StageSaving indicates persisted tiers are being written.
	StageSaving
)

func (s ProgressStage) String() string {
	switch s {
	case StageLoadingPersisted:
		return "loading persisted"
	case StageDecoding:
		return "decoding"
	case StageMerging:
		return "merging"
	case StageSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during a build.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
