package domain

import "context"

// AssetInfo describes one asset handed to the download engine
type AssetInfo struct {
	Identifier  string
	ManifestURL string
	// Bitrate is the previously selected tier when resuming after a pause;
	// zero means the engine should negotiate one against the manifest.
	Bitrate int64
	// License is nil for clear content
	License *LicenseData
	// PersistedKey is the offline key blob from a previous negotiation,
	// used by the renewal and resume paths.
	PersistedKey []byte
}

// MediaSelectionGroup is a set of alternative tracks sharing one
// characteristic, e.g. all audio language options of a manifest.
type MediaSelectionGroup struct {
	Characteristic string // "audible" or "legible"
	Options        []string
}

// MediaSelection names one chosen track option inside a group
type MediaSelection struct {
	Characteristic string
	Option         string
}

// ManifestInfo is what the native layer can tell us about a manifest
// before downloading it.
type ManifestInfo struct {
	VariantBitrates []int64
	Groups          []MediaSelectionGroup
}

// StreamTask is the aggregate multi-track download operation submitted to
// the native adaptive-stream downloader.
type StreamTask struct {
	Identifier     string
	ManifestURL    string
	MinimumBitrate int64
	Selections     []MediaSelection
}

// StreamDownloader is the platform-native adaptive-stream download
// primitive. It runs transfers on its own background session and reports
// results through the StreamCallbacks installed at construction time.
// Segment-level fetching lives entirely behind this interface.
type StreamDownloader interface {
	// Inspect reads the manifest's variant bitrates and selection groups
	Inspect(ctx context.Context, manifestURL string) (*ManifestInfo, error)
	// Start begins (or resumes) the aggregate transfer for the task
	Start(task *StreamTask) error
	// Cancel stops the transfer; completion is still reported through
	// StreamCallbacks.TaskCompleted with a cancellation error.
	Cancel(identifier string) error
}

// StreamCallbacks receives asynchronous per-task events from the native
// downloader. Calls may arrive on arbitrary goroutines.
type StreamCallbacks interface {
	// TaskCompleted fires exactly once per started task. err is nil on
	// success; cancellation is reported as an error matching ErrCancelled.
	TaskCompleted(identifier string, err error)
	// TaskWillDownloadTo reports the on-disk location of the asset bundle
	TaskWillDownloadTo(identifier string, location string)
	// TaskProgressBytes reports byte counters once the native layer knows them
	TaskProgressBytes(identifier string, loaded, total int64)
	// TaskProgressTimeRanges reports elapsed/expected seconds while byte
	// counts are not yet available (early phase of an aggregate download).
	TaskProgressTimeRanges(identifier string, loadedSeconds, expectedSeconds float64)
}

// EngineDelegate is the stable callback contract the download engine
// exposes upward. Handlers must tolerate unknown identifiers silently:
// a callback racing a removal is expected, not an error.
type EngineDelegate interface {
	DownloadStateChanged(identifier string, state DownloadState)
	DownloadProgress(identifier string, loaded, total int64)
	// DownloadBitrateSelected reports the tier negotiated at first start.
	// The owner stores it on the record so a later resume reuses the tier
	// instead of renegotiating against the manifest.
	DownloadBitrateSelected(identifier string, bitrate int64)
	DownloadLocationAvailable(identifier string, location string)
	DownloadLicenseKeyAvailable(identifier string, key []byte)
	DownloadError(identifier string, err error)
}
