package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

type taskStatus int

const (
	statusWaiting taskStatus = iota
	statusDownloading
	statusPausing
)

type activeDownload struct {
	info     *domain.AssetInfo
	status   taskStatus
	sawBytes bool
	release  sync.Once
}

// AssetDownloadEngine wraps the platform-native adaptive-stream download
// primitive. It enforces the global concurrency ceiling, runs license
// acquisition before DRM-protected transfers, and translates native
// callbacks into the EngineDelegate contract.
type AssetDownloadEngine struct {
	native   domain.StreamDownloader
	keys     domain.KeySessionFactory
	licenses *LicenseManager
	config   *domain.DownloadConfig
	drm      *domain.DRMConfig
	logger   *zap.Logger

	slots chan struct{}

	mu       sync.Mutex
	active   map[string]*activeDownload
	delegate domain.EngineDelegate
	quality  domain.Quality
}

// NewAssetDownloadEngine creates a download engine. The delegate is set
// separately because the registry and the engine reference each other.
func NewAssetDownloadEngine(
	native domain.StreamDownloader,
	keys domain.KeySessionFactory,
	licenses *LicenseManager,
	config *domain.DownloadConfig,
	drm *domain.DRMConfig,
	logger *zap.Logger,
) *AssetDownloadEngine {
	limit := config.ConcurrentLimit
	if limit < 1 {
		limit = 3
	}
	return &AssetDownloadEngine{
		native:   native,
		keys:     keys,
		licenses: licenses,
		config:   config,
		drm:      drm,
		logger:   logger,
		slots:    make(chan struct{}, limit),
		active:   make(map[string]*activeDownload),
		quality:  config.Quality,
	}
}

// SetQuality changes the quality preference used for downloads started
// from now on; already-selected tiers are never recomputed.
func (e *AssetDownloadEngine) SetQuality(q domain.Quality) {
	e.mu.Lock()
	e.quality = q
	e.mu.Unlock()
}

// SetDelegate installs the upward callback receiver
func (e *AssetDownloadEngine) SetDelegate(d domain.EngineDelegate) {
	e.mu.Lock()
	e.delegate = d
	e.mu.Unlock()
}

func (e *AssetDownloadEngine) getDelegate() domain.EngineDelegate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delegate
}

// Resume starts (or resumes) the download for the asset. When the asset
// carries license data the content key is negotiated first; the native
// task is only created after the license is ready. The call returns
// immediately: admission waits happen on a background goroutine, never on
// the caller's context.
func (e *AssetDownloadEngine) Resume(ctx context.Context, info *domain.AssetInfo) {
	e.mu.Lock()
	if _, ok := e.active[info.Identifier]; ok {
		// Already active or queued for a slot
		e.mu.Unlock()
		return
	}
	entry := &activeDownload{info: info, status: statusWaiting}
	e.active[info.Identifier] = entry
	e.mu.Unlock()

	go e.admit(ctx, entry)
}

func (e *AssetDownloadEngine) admit(ctx context.Context, entry *activeDownload) {
	id := entry.info.Identifier

	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
		return
	}

	// Cancelled while waiting for a slot
	e.mu.Lock()
	if entry.status == statusPausing {
		delete(e.active, id)
		e.mu.Unlock()
		e.releaseSlot(entry)
		if d := e.getDelegate(); d != nil {
			d.DownloadStateChanged(id, domain.StatePaused)
		}
		return
	}
	e.mu.Unlock()

	if entry.info.License != nil {
		key, err := e.acquireLicense(ctx, entry.info)
		if err != nil {
			e.mu.Lock()
			delete(e.active, id)
			e.mu.Unlock()
			e.releaseSlot(entry)
			if d := e.getDelegate(); d != nil {
				d.DownloadError(id, e.classify(err))
			}
			return
		}
		if d := e.getDelegate(); d != nil {
			d.DownloadLicenseKeyAvailable(id, key)
		}
	}

	if err := e.startTask(ctx, entry); err != nil {
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
		e.releaseSlot(entry)
		if d := e.getDelegate(); d != nil {
			d.DownloadError(id, e.classify(err))
		}
	}
}

func (e *AssetDownloadEngine) acquireLicense(ctx context.Context, info *domain.AssetInfo) ([]byte, error) {
	req, err := e.keys.OpenKeyRequest(ctx, info.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("open key session: %w", err)
	}
	return e.licenses.Acquire(ctx, req, info.License, info.PersistedKey)
}

// startTask negotiates the bitrate tier and media selections, then hands
// the aggregate task to the native downloader.
func (e *AssetDownloadEngine) startTask(ctx context.Context, entry *activeDownload) error {
	info := entry.info
	task := &domain.StreamTask{
		Identifier:  info.Identifier,
		ManifestURL: info.ManifestURL,
	}

	if info.Bitrate > 0 {
		// Resumed after pause: reuse the tier selected at first start.
		// Recomputing would not be idempotent if the manifest's variant
		// set changed in between.
		task.MinimumBitrate = info.Bitrate
	} else if !isFileURL(info.ManifestURL) {
		manifest, err := e.native.Inspect(ctx, info.ManifestURL)
		if err != nil {
			return fmt.Errorf("inspect manifest: %w", err)
		}
		e.mu.Lock()
		quality := e.quality
		e.mu.Unlock()
		task.MinimumBitrate = domain.SelectBitrate(manifest.VariantBitrates, quality)
		info.Bitrate = task.MinimumBitrate
		if d := e.getDelegate(); d != nil {
			d.DownloadBitrateSelected(info.Identifier, task.MinimumBitrate)
		}

		// One selection per available option within each characteristic
		// group, not just the defaults.
		for _, group := range manifest.Groups {
			for _, option := range group.Options {
				task.Selections = append(task.Selections, domain.MediaSelection{
					Characteristic: group.Characteristic,
					Option:         option,
				})
			}
		}

		e.logger.Debug("caching task prepared",
			zap.String("identifier", info.Identifier),
			zap.Int64("bitrate", task.MinimumBitrate),
			zap.Int("selections", len(task.Selections)))
	}

	if err := e.native.Start(task); err != nil {
		return err
	}

	e.mu.Lock()
	entry.status = statusDownloading
	e.mu.Unlock()

	if d := e.getDelegate(); d != nil {
		d.DownloadStateChanged(info.Identifier, domain.StateDownloading)
	}
	return nil
}

// Cancel stops the active task for the identifier. Cancelling an unknown
// or already-cancelled identifier is a safe no-op. The concurrency slot is
// released on the same completion path as a normal finish.
func (e *AssetDownloadEngine) Cancel(identifier string) {
	e.mu.Lock()
	entry, ok := e.active[identifier]
	if !ok || entry.status == statusPausing {
		e.mu.Unlock()
		return
	}
	wasWaiting := entry.status == statusWaiting
	entry.status = statusPausing
	e.mu.Unlock()

	if !wasWaiting {
		if err := e.native.Cancel(identifier); err != nil {
			e.logger.Warn("native cancel failed",
				zap.String("identifier", identifier), zap.Error(err))
		}
	}
}

// Renew re-runs license negotiation against a locally stored asset. The
// new key is returned only once confirmed ready; on failure the caller's
// previous key stays valid.
func (e *AssetDownloadEngine) Renew(ctx context.Context, info *domain.AssetInfo) ([]byte, error) {
	req, err := e.keys.OpenKeyRequest(ctx, info.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("open key session: %w", err)
	}
	key, err := e.licenses.Renew(ctx, req, info.License)
	if err != nil {
		return nil, e.classify(err)
	}
	if d := e.getDelegate(); d != nil {
		d.DownloadLicenseKeyAvailable(info.Identifier, key)
	}
	return key, nil
}

func (e *AssetDownloadEngine) releaseSlot(entry *activeDownload) {
	entry.release.Do(func() { <-e.slots })
}

// classify maps failures in simulated environments without DRM hardware
// to a distinct, suppressible error kind.
func (e *AssetDownloadEngine) classify(err error) error {
	if e.drm != nil && e.drm.SimulatedEnvironment && !domain.IsCancellation(err) {
		return fmt.Errorf("%w: %v", domain.ErrUnsupportedEnvironment, err)
	}
	return err
}

func isFileURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "file"
}

// TaskCompleted handles the single per-task completion callback from the
// native layer. The slot is always released here, exactly once, for
// success, error and cancellation alike.
func (e *AssetDownloadEngine) TaskCompleted(identifier string, err error) {
	e.mu.Lock()
	entry, ok := e.active[identifier]
	if !ok {
		// Task already removed, expected race
		e.mu.Unlock()
		return
	}
	delete(e.active, identifier)
	e.mu.Unlock()

	e.releaseSlot(entry)

	d := e.getDelegate()
	if d == nil {
		return
	}

	switch {
	case err == nil:
		e.logger.Debug("download completed", zap.String("identifier", identifier))
		d.DownloadStateChanged(identifier, domain.StateCompleted)
	case domain.IsCancellation(err):
		// User pause and OS-initiated cancellation both land here; neither
		// is a failure.
		e.logger.Debug("download cancelled", zap.String("identifier", identifier))
		d.DownloadStateChanged(identifier, domain.StatePaused)
	default:
		e.logger.Warn("download failed",
			zap.String("identifier", identifier), zap.Error(err))
		d.DownloadError(identifier, e.classify(err))
	}
}

// TaskWillDownloadTo reports where the native layer stores the bundle
func (e *AssetDownloadEngine) TaskWillDownloadTo(identifier string, location string) {
	e.mu.Lock()
	_, ok := e.active[identifier]
	e.mu.Unlock()
	if !ok {
		return
	}
	if d := e.getDelegate(); d != nil {
		d.DownloadLocationAvailable(identifier, location)
	}
}

// TaskProgressBytes forwards byte-level progress. Once bytes are seen the
// time-range approximation is ignored for this task.
func (e *AssetDownloadEngine) TaskProgressBytes(identifier string, loaded, total int64) {
	e.mu.Lock()
	entry, ok := e.active[identifier]
	if ok {
		entry.sawBytes = true
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if d := e.getDelegate(); d != nil {
		d.DownloadProgress(identifier, loaded, total)
	}
}

// TaskProgressTimeRanges approximates progress from elapsed/expected time
// ranges while the aggregate download has not reported byte counts yet.
// Superseded by true byte counters as soon as they arrive.
func (e *AssetDownloadEngine) TaskProgressTimeRanges(identifier string, loadedSeconds, expectedSeconds float64) {
	e.mu.Lock()
	entry, ok := e.active[identifier]
	sawBytes := ok && entry.sawBytes
	e.mu.Unlock()
	if !ok || sawBytes {
		return
	}
	if d := e.getDelegate(); d != nil {
		d.DownloadProgress(identifier, int64(loadedSeconds), int64(expectedSeconds))
	}
}
