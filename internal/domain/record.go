package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// DownloadState represents the lifecycle state of a download record
type DownloadState string

const (
	StateQueued      DownloadState = "QUEUED"
	StateDownloading DownloadState = "DOWNLOADING"
	StatePaused      DownloadState = "PAUSED"
	StateCompleted   DownloadState = "COMPLETED"
	StateFailed      DownloadState = "FAILED"
	StateRemoving    DownloadState = "REMOVING"
)

// DRMType identifies the DRM system protecting a piece of content
type DRMType string

const (
	DRMWidevine  DRMType = "widevine"
	DRMPlayready DRMType = "playready"
	DRMClearkey  DRMType = "clearkey"
	DRMFairplay  DRMType = "fairplay"
)

// Operator identifies the license server operator. The set is closed:
// each operator has its own authentication and response format.
type Operator string

const (
	OperatorAzure      Operator = "azure"
	OperatorVerimatrix Operator = "verimatrix"
	OperatorNagra      Operator = "nagra"
)

// LicenseData carries the DRM metadata needed to negotiate a content key
type LicenseData struct {
	Type       DRMType  `json:"type"`
	Operator   Operator `json:"operator"`
	LicenseURL string   `json:"licenseServer"`
	Token      string   `json:"licenseToken,omitempty"`
}

// SubtitleTrack is one external subtitle file attached to a download.
// LocalURL is populated only after the file has been fetched and cached.
type SubtitleTrack struct {
	Language  string `json:"language"`
	RemoteURL string `json:"webUrl"`
	LocalURL  string `json:"localUrl,omitempty"`
}

// DownloadRecord is one content item queued for offline viewing
type DownloadRecord struct {
	PathID        string `json:"pathId"`
	ProgramPathID string `json:"programPathId,omitempty"`
	Account       string `json:"ua"`
	SourceURL     string `json:"url"`

	State           DownloadState `json:"state"`
	BytesDownloaded int64         `json:"bytesDownloaded"`
	TotalBytes      int64         `json:"totalBytes"`

	// SelectedBitrate is the minimum-bitrate tier chosen when the download
	// first started. A paused download resumed later reuses it instead of
	// renegotiating against the manifest's current variant set.
	SelectedBitrate int64 `json:"selectedBitrate,omitempty"`

	// LocalLocation is the live filesystem path of the asset bundle while
	// the transfer is in flight. Bookmark is the durable reference taken
	// exactly once when the record reaches Completed.
	LocalLocation string `json:"localLocation,omitempty"`
	Bookmark      string `json:"bookmark,omitempty"`

	// LicenseKey is the persisted offline key material for DRM content
	LicenseKey []byte       `json:"licenseKey,omitempty"`
	DRM        *LicenseData `json:"drm,omitempty"`

	Subtitles  []SubtitleTrack `json:"subtitles,omitempty"`
	ImageURL   string          `json:"templateImg,omitempty"`
	ProgramImg string          `json:"programImg,omitempty"`
	ExpireDate *time.Time      `json:"expireDate,omitempty"`

	// Interrupted marks a record that was mid-transfer when the process
	// died. Only interrupted records rejoin the active subset on cold
	// start; records the user paused stay out of it.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Identifier returns the stable unique key of the record, derived from the
// content path, the parent program path and the account. It never depends
// on object identity and is identical across process restarts.
func (r *DownloadRecord) Identifier() string {
	sum := sha1.Sum([]byte(r.PathID + r.ProgramPathID + r.Account))
	return hex.EncodeToString(sum[:])
}

// IsExpired reports whether the local copy has outlived its expire date
func (r *DownloadRecord) IsExpired(now time.Time) bool {
	return r.ExpireDate != nil && now.After(*r.ExpireDate)
}

// IsTerminal reports whether the record is in a stable terminal state
func (r *DownloadRecord) IsTerminal() bool {
	return r.State == StateCompleted
}

// SetBookmarkIfNeeded establishes the durable location reference, exactly
// once, on reaching Completed.
func (r *DownloadRecord) SetBookmarkIfNeeded() {
	if r.State == StateCompleted && r.Bookmark == "" && r.LocalLocation != "" {
		r.Bookmark = r.LocalLocation
	}
}

// Location resolves the usable asset location: the durable bookmark once
// completed, the live path while still in flight.
func (r *DownloadRecord) Location() string {
	if r.Bookmark != "" {
		return r.Bookmark
	}
	if r.State == StateCompleted {
		// Completed but no bookmark: the asset bundle was removed out of
		// band, there is nothing to play.
		return ""
	}
	return r.LocalLocation
}

// Clone returns a deep copy safe to hand to event consumers while the
// original keeps mutating under the registry's lock.
func (r *DownloadRecord) Clone() *DownloadRecord {
	out := *r
	if r.LicenseKey != nil {
		out.LicenseKey = append([]byte(nil), r.LicenseKey...)
	}
	if r.DRM != nil {
		drm := *r.DRM
		out.DRM = &drm
	}
	if r.Subtitles != nil {
		out.Subtitles = append([]SubtitleTrack(nil), r.Subtitles...)
	}
	if r.ExpireDate != nil {
		expire := *r.ExpireDate
		out.ExpireDate = &expire
	}
	return &out
}

// ValidOperator checks whether an operator belongs to the supported set
func ValidOperator(op Operator) bool {
	return op == OperatorAzure || op == OperatorVerimatrix || op == OperatorNagra
}
