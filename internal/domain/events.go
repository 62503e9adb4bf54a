package domain

// DownloadErrorEvent carries the identifying fields of the failed item
// plus a human-readable cause.
type DownloadErrorEvent struct {
	PathID        string `json:"pathId"`
	ProgramPathID string `json:"programPathId,omitempty"`
	Account       string `json:"ua"`
	Message       string `json:"message"`
}

// RenewLicenseEvent reports the outcome of an explicit license renewal
type RenewLicenseEvent struct {
	Item    *DownloadRecord `json:"item"`
	Success bool            `json:"success"`
}

// Notifier is the event channel toward the host application. List-changed
// and progress are deliberately split: list re-renders should not be
// triggered on every progress tick, so progress carries only the
// currently-downloading subset.
type Notifier interface {
	DownloadListChanged(records []*DownloadRecord)
	DownloadProgress(active []*DownloadRecord)
	DownloadFailed(event DownloadErrorEvent)
	RenewLicenseResult(event RenewLicenseEvent)
}
