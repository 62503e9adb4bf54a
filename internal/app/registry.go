package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// Engine is the slice of the asset download engine the registry drives
type Engine interface {
	Resume(ctx context.Context, info *domain.AssetInfo)
	Cancel(identifier string)
	Renew(ctx context.Context, info *domain.AssetInfo) ([]byte, error)
	SetQuality(q domain.Quality)
}

// SubtitleFetcher caches external subtitle files before a download starts
type SubtitleFetcher interface {
	Fetch(ctx context.Context, identifier string, subtitles []domain.SubtitleTrack) ([]domain.SubtitleTrack, error)
	Remove(identifier string) error
}

// ImageFetcher caches thumbnails, best effort
type ImageFetcher interface {
	Fetch(ctx context.Context, identifier string, imageURLs ...string)
	Remove(identifier string) error
}

// Registry is the authoritative, thread-safe owner of all download
// records. It mediates between host commands and the download engine,
// persists after every structural mutation, reconciles state on cold
// start, and emits the split list-changed / progress notifications.
type Registry struct {
	store     domain.Store
	engine    Engine
	subtitles SubtitleFetcher
	images    ImageFetcher
	notifier  domain.Notifier
	logger    *zap.Logger

	mu      sync.Mutex
	records []*domain.DownloadRecord
	index   map[string]*domain.DownloadRecord
	active  map[string]*domain.DownloadRecord
}

// NewRegistry loads persisted records, runs the one-shot legacy
// migration, and reconciles any record left mid-transfer by a previous
// process: nothing can legitimately be Downloading across a cold start,
// so those are demoted to Paused with the Interrupted flag set. Only
// interrupted records repopulate the active subset.
func NewRegistry(
	store domain.Store,
	engine Engine,
	subtitles SubtitleFetcher,
	images ImageFetcher,
	notifier domain.Notifier,
	logger *zap.Logger,
) (*Registry, error) {
	r := &Registry{
		store:     store,
		engine:    engine,
		subtitles: subtitles,
		images:    images,
		notifier:  notifier,
		logger:    logger,
		index:     make(map[string]*domain.DownloadRecord),
		active:    make(map[string]*domain.DownloadRecord),
	}

	records, err := store.Load()
	if err != nil {
		// Treated as no data: the registry starts empty rather than failing
		logger.Warn("loading persisted downloads failed", zap.Error(err))
		records = nil
	}

	migrated, err := store.Migrate()
	if err != nil {
		logger.Warn("legacy migration failed", zap.Error(err))
	}
	records = append(records, migrated...)

	for _, record := range records {
		id := record.Identifier()
		if _, ok := r.index[id]; ok {
			continue
		}
		if record.State == domain.StateDownloading {
			record.State = domain.StatePaused
			record.Interrupted = true
		}
		r.records = append(r.records, record)
		r.index[id] = record
		if record.State == domain.StatePaused && record.Interrupted {
			r.active[id] = record
		}
	}

	if err := r.store.Save(r.records); err != nil {
		logger.Warn("persisting reconciled downloads failed", zap.Error(err))
	}
	if len(r.active) > 0 {
		r.notifier.DownloadProgress(r.activeSnapshotLocked())
	}
	return r, nil
}

// Resume starts a new download or resumes a paused one. For a new item
// the external subtitles are fetched and thumbnails cached before the
// record is inserted and handed to the engine. Resuming a record already
// Downloading is a no-op.
func (r *Registry) Resume(ctx context.Context, record *domain.DownloadRecord, license *domain.LicenseData) error {
	if record.PathID == "" || record.Account == "" {
		r.notifyError(record, domain.ErrMissingIdentity)
		return domain.ErrMissingIdentity
	}
	parsed, err := url.Parse(record.SourceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" && parsed.Scheme != "file" {
		r.notifyError(record, domain.ErrInvalidURL)
		return fmt.Errorf("%w: %q", domain.ErrInvalidURL, record.SourceURL)
	}

	id := record.Identifier()

	r.mu.Lock()
	existing, known := r.index[id]
	r.mu.Unlock()

	if !known {
		// New download: cache subtitles (required) and thumbnails (best
		// effort) before admitting the record.
		cached, err := r.subtitles.Fetch(ctx, id, record.Subtitles)
		if err != nil {
			r.notifyError(record, err)
			return err
		}
		record.Subtitles = cached
		r.images.Fetch(ctx, id, record.ImageURL, record.ProgramImg)

		record.State = domain.StateQueued
		if license != nil {
			record.DRM = license
		}

		r.mu.Lock()
		if _, raced := r.index[id]; !raced {
			r.records = append(r.records, record)
			r.index[id] = record
			r.persistLocked()
			r.notifier.DownloadListChanged(r.snapshotLocked())
		}
		existing = r.index[id]
		r.mu.Unlock()
	}

	r.mu.Lock()
	switch existing.State {
	case domain.StateDownloading, domain.StateCompleted, domain.StateRemoving:
		// Already transferring, already on disk, or on its way out. A
		// finished asset is never re-downloaded.
		r.mu.Unlock()
		return nil
	}
	info := &domain.AssetInfo{
		Identifier:   id,
		ManifestURL:  existing.SourceURL,
		Bitrate:      existing.SelectedBitrate,
		License:      existing.DRM,
		PersistedKey: existing.LicenseKey,
	}
	r.mu.Unlock()

	// The engine work outlives the bridge call that triggered it; the
	// caller's context must not cancel a queued download when the HTTP
	// request finishes.
	r.engine.Resume(context.WithoutCancel(ctx), info)
	return nil
}

// Pause cancels the engine task and marks the record user-paused. Only
// in-flight records can be paused: Queued tasks may still be waiting for
// an engine slot, Downloading ones are transferring. Anything else,
// including unknown records, is a no-op.
func (r *Registry) Pause(record *domain.DownloadRecord) {
	id := record.Identifier()

	r.mu.Lock()
	existing, ok := r.index[id]
	if !ok || (existing.State != domain.StateDownloading && existing.State != domain.StateQueued) {
		r.mu.Unlock()
		return
	}
	existing.State = domain.StatePaused
	existing.Interrupted = false
	delete(r.active, id)
	r.persistLocked()
	progress := r.activeSnapshotLocked()
	r.mu.Unlock()

	r.engine.Cancel(id)
	r.notifier.DownloadProgress(progress)
}

// Delete cancels any active task, erases backing files best effort, and
// removes the record. Deleting an unknown identifier is a safe no-op.
func (r *Registry) Delete(record *domain.DownloadRecord) {
	id := record.Identifier()

	r.mu.Lock()
	existing, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	existing.State = domain.StateRemoving
	r.mu.Unlock()

	r.engine.Cancel(id)
	r.removeFiles(existing)

	r.mu.Lock()
	delete(r.index, id)
	delete(r.active, id)
	for i, rec := range r.records {
		if rec.Identifier() == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.DownloadListChanged(snapshot)
}

// BatchDelete deletes several records in one command
func (r *Registry) BatchDelete(records []*domain.DownloadRecord) {
	for _, record := range records {
		r.Delete(record)
	}
}

// Renew re-runs license acquisition for a completed DRM download against
// its locally stored asset. The outcome is reported on the dedicated
// renew-result channel; the record's primary state never changes.
func (r *Registry) Renew(ctx context.Context, record *domain.DownloadRecord, license *domain.LicenseData) {
	id := record.Identifier()

	r.mu.Lock()
	existing, ok := r.index[id]
	var location string
	if ok {
		location = existing.Location()
	}
	r.mu.Unlock()

	if !ok || existing.State != domain.StateCompleted || location == "" {
		r.notifier.RenewLicenseResult(domain.RenewLicenseEvent{Item: record.Clone(), Success: false})
		return
	}

	key, err := r.engine.Renew(ctx, &domain.AssetInfo{
		Identifier:  id,
		ManifestURL: location,
		License:     license,
	})
	if err != nil {
		r.logger.Warn("license renewal failed", zap.String("identifier", id), zap.Error(err))
		r.notifier.RenewLicenseResult(domain.RenewLicenseEvent{Item: existing.Clone(), Success: false})
		return
	}

	r.mu.Lock()
	existing.LicenseKey = key
	r.persistLocked()
	clone := existing.Clone()
	r.mu.Unlock()

	r.notifier.RenewLicenseResult(domain.RenewLicenseEvent{Item: clone, Success: true})
}

// SetQuality changes the process-wide quality preference
func (r *Registry) SetQuality(q domain.Quality) error {
	if !domain.ValidQuality(q) {
		return fmt.Errorf("invalid quality: %s", q)
	}
	r.engine.SetQuality(q)
	return nil
}

// List returns a snapshot of all known records
func (r *Registry) List() []*domain.DownloadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Completed returns the completed downloads belonging to an account,
// skipping copies past their expire date.
func (r *Registry) Completed(account string) []*domain.DownloadRecord {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DownloadRecord
	for _, record := range r.records {
		if record.State == domain.StateCompleted && record.Account == account && !record.IsExpired(now) {
			out = append(out, record.Clone())
		}
	}
	return out
}

// NotifyListChanged emits a full list snapshot, used when a bridge
// consumer attaches.
func (r *Registry) NotifyListChanged() {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.notifier.DownloadListChanged(snapshot)
}

// --- EngineDelegate ---

// DownloadStateChanged applies an engine state transition. Unknown
// identifiers are ignored: the callback may race a removal.
func (r *Registry) DownloadStateChanged(identifier string, state domain.DownloadState) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	if !ok {
		r.mu.Unlock()
		return
	}

	record.State = state
	switch state {
	case domain.StateDownloading:
		record.Interrupted = true
		r.active[identifier] = record
	case domain.StateCompleted:
		record.Interrupted = false
		if record.TotalBytes > 0 {
			record.BytesDownloaded = record.TotalBytes
		}
		record.SetBookmarkIfNeeded()
		delete(r.active, identifier)
	default:
		delete(r.active, identifier)
	}
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.DownloadListChanged(snapshot)
}

// DownloadProgress updates byte counters. Counters never decrease, and
// once the total is known the loaded count is clamped to it. Progress is
// not persisted per tick; only structural changes hit the store.
func (r *Registry) DownloadProgress(identifier string, loaded, total int64) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	if !ok {
		r.mu.Unlock()
		return
	}
	if total > 0 {
		record.TotalBytes = total
	}
	if loaded > record.BytesDownloaded {
		record.BytesDownloaded = loaded
	}
	if record.TotalBytes > 0 && record.BytesDownloaded > record.TotalBytes {
		record.BytesDownloaded = record.TotalBytes
	}
	progress := r.activeSnapshotLocked()
	r.mu.Unlock()

	r.notifier.DownloadProgress(progress)
}

// DownloadBitrateSelected stores the tier chosen at first start so that
// pause/resume (and resume across a restart) keeps the same tier.
func (r *Registry) DownloadBitrateSelected(identifier string, bitrate int64) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	if ok {
		record.SelectedBitrate = bitrate
		r.persistLocked()
	}
	r.mu.Unlock()
}

// DownloadLocationAvailable records the asset bundle location
func (r *Registry) DownloadLocationAvailable(identifier string, location string) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	if ok {
		record.LocalLocation = location
		r.persistLocked()
	}
	r.mu.Unlock()
}

// DownloadLicenseKeyAvailable persists the offline key material
func (r *Registry) DownloadLicenseKeyAvailable(identifier string, key []byte) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	if ok {
		record.LicenseKey = key
		r.persistLocked()
	}
	r.mu.Unlock()
}

// DownloadError emits the error event and removes the failed record: a
// broken download disappears from the list instead of lingering.
func (r *Registry) DownloadError(identifier string, err error) {
	r.mu.Lock()
	record, ok := r.index[identifier]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.notifyError(record, err)
	r.Delete(record)
}

// --- internals ---

func (r *Registry) notifyError(record *domain.DownloadRecord, err error) {
	r.notifier.DownloadFailed(domain.DownloadErrorEvent{
		PathID:        record.PathID,
		ProgramPathID: record.ProgramPathID,
		Account:       record.Account,
		Message:       err.Error(),
	})
}

// removeFiles erases the asset bundle and the subtitle/thumbnail cache.
// Filesystem errors are logged, never propagated: the record is removed
// from the registry regardless.
func (r *Registry) removeFiles(record *domain.DownloadRecord) {
	id := record.Identifier()
	if location := record.Location(); location != "" {
		if err := os.RemoveAll(location); err != nil {
			r.logger.Warn("removing asset bundle failed",
				zap.String("identifier", id), zap.Error(err))
		}
	}
	if err := r.subtitles.Remove(id); err != nil {
		r.logger.Warn("removing subtitle cache failed",
			zap.String("identifier", id), zap.Error(err))
	}
	if err := r.images.Remove(id); err != nil {
		r.logger.Warn("removing image cache failed",
			zap.String("identifier", id), zap.Error(err))
	}
}

// persistLocked writes the full record list; callers hold r.mu. Encode
// failures are logged and swallowed, the in-memory registry stays
// authoritative.
func (r *Registry) persistLocked() {
	if err := r.store.Save(r.records); err != nil {
		r.logger.Warn("persisting downloads failed", zap.Error(err))
	}
}

func (r *Registry) snapshotLocked() []*domain.DownloadRecord {
	out := make([]*domain.DownloadRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record.Clone())
	}
	return out
}

func (r *Registry) activeSnapshotLocked() []*domain.DownloadRecord {
	out := make([]*domain.DownloadRecord, 0, len(r.active))
	for _, record := range r.records {
		if _, ok := r.active[record.Identifier()]; ok {
			out = append(out, record.Clone())
		}
	}
	return out
}
