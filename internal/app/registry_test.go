package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// mockStore implements domain.Store in memory
type mockStore struct {
	mu       sync.Mutex
	records  []*domain.DownloadRecord
	legacy   []*domain.DownloadRecord
	saves    int
	saveErr  error
	migrated bool
}

func (m *mockStore) Load() ([]*domain.DownloadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *mockStore) Save(records []*domain.DownloadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = append([]*domain.DownloadRecord(nil), records...)
	return nil
}

func (m *mockStore) Migrate() ([]*domain.DownloadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.migrated {
		return nil, nil
	}
	m.migrated = true
	return m.legacy, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// mockEngine records engine commands
type mockEngine struct {
	mu        sync.Mutex
	resumed   []*domain.AssetInfo
	cancelled []string
	renewKey  []byte
	renewErr  error
	quality   domain.Quality
}

func (m *mockEngine) Resume(ctx context.Context, info *domain.AssetInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, info)
}

func (m *mockEngine) Cancel(identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, identifier)
}

func (m *mockEngine) Renew(ctx context.Context, info *domain.AssetInfo) ([]byte, error) {
	return m.renewKey, m.renewErr
}

func (m *mockEngine) SetQuality(q domain.Quality) { m.quality = q }

func (m *mockEngine) resumedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resumed)
}

func (m *mockEngine) lastResumed() *domain.AssetInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resumed) == 0 {
		return nil
	}
	return m.resumed[len(m.resumed)-1]
}

// mockSubtitles implements SubtitleFetcher
type mockSubtitles struct {
	fetchErr error
	removed  []string
}

func (m *mockSubtitles) Fetch(ctx context.Context, identifier string, subtitles []domain.SubtitleTrack) ([]domain.SubtitleTrack, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]domain.SubtitleTrack, len(subtitles))
	for i, sub := range subtitles {
		sub.LocalURL = "/cache/" + identifier + "/subtitles/" + sub.Language
		out[i] = sub
	}
	return out, nil
}

func (m *mockSubtitles) Remove(identifier string) error {
	m.removed = append(m.removed, identifier)
	return nil
}

// mockImages implements ImageFetcher
type mockImages struct {
	removed []string
}

func (m *mockImages) Fetch(ctx context.Context, identifier string, imageURLs ...string) {}

func (m *mockImages) Remove(identifier string) error {
	m.removed = append(m.removed, identifier)
	return nil
}

// mockNotifier captures emitted events
type mockNotifier struct {
	mu           sync.Mutex
	listChanges  [][]*domain.DownloadRecord
	progress     [][]*domain.DownloadRecord
	failures     []domain.DownloadErrorEvent
	renewResults []domain.RenewLicenseEvent
}

func (m *mockNotifier) DownloadListChanged(records []*domain.DownloadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listChanges = append(m.listChanges, records)
}

func (m *mockNotifier) DownloadProgress(active []*domain.DownloadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, active)
}

func (m *mockNotifier) DownloadFailed(event domain.DownloadErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, event)
}

func (m *mockNotifier) RenewLicenseResult(event domain.RenewLicenseEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewResults = append(m.renewResults, event)
}

func (m *mockNotifier) lastListChange() []*domain.DownloadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listChanges) == 0 {
		return nil
	}
	return m.listChanges[len(m.listChanges)-1]
}

func (m *mockNotifier) failureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

type registryFixture struct {
	registry  *Registry
	store     *mockStore
	engine    *mockEngine
	subtitles *mockSubtitles
	images    *mockImages
	notifier  *mockNotifier
}

func newFixture(t *testing.T, persisted ...*domain.DownloadRecord) *registryFixture {
	t.Helper()
	f := &registryFixture{
		store:     &mockStore{records: persisted},
		engine:    &mockEngine{},
		subtitles: &mockSubtitles{},
		images:    &mockImages{},
		notifier:  &mockNotifier{},
	}
	registry, err := NewRegistry(f.store, f.engine, f.subtitles, f.images, f.notifier, zap.NewNop())
	require.NoError(t, err)
	f.registry = registry
	return f
}

func testRecord(pathID string) *domain.DownloadRecord {
	return &domain.DownloadRecord{
		PathID:    pathID,
		Account:   "user@example.com",
		SourceURL: "https://cdn.example.com/" + pathID + "/master.m3u8",
	}
}

func TestColdStartDemotesInterruptedDownloads(t *testing.T) {
	interrupted := testRecord("path/1")
	interrupted.State = domain.StateDownloading

	userPaused := testRecord("path/2")
	userPaused.State = domain.StatePaused

	completed := testRecord("path/3")
	completed.State = domain.StateCompleted

	f := newFixture(t, interrupted, userPaused, completed)

	list := f.registry.List()
	require.Len(t, list, 3)

	byPath := map[string]*domain.DownloadRecord{}
	for _, record := range list {
		byPath[record.PathID] = record
	}

	assert.Equal(t, domain.StatePaused, byPath["path/1"].State)
	assert.True(t, byPath["path/1"].Interrupted)
	assert.Equal(t, domain.StatePaused, byPath["path/2"].State)
	assert.False(t, byPath["path/2"].Interrupted)
	assert.Equal(t, domain.StateCompleted, byPath["path/3"].State)

	// The reconciled state is persisted and the active subset announced
	assert.GreaterOrEqual(t, f.store.saveCount(), 1)
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.progress, 1)
	require.Len(t, f.notifier.progress[0], 1)
	assert.Equal(t, "path/1", f.notifier.progress[0][0].PathID)
}

func TestResumeRejectsMissingIdentity(t *testing.T) {
	f := newFixture(t)

	err := f.registry.Resume(context.Background(), &domain.DownloadRecord{SourceURL: "https://x.example.com/a.m3u8"}, nil)
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)
	assert.Equal(t, 1, f.notifier.failureCount())
	assert.Zero(t, f.engine.resumedCount())
}

func TestResumeRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	record.SourceURL = "not a url"
	err := f.registry.Resume(context.Background(), record, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidURL)
	assert.Equal(t, 1, f.notifier.failureCount())
}

func TestResumeNewDownload(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	record.Subtitles = []domain.SubtitleTrack{{Language: "en", RemoteURL: "https://subs/en.vtt"}}
	license := &domain.LicenseData{Operator: domain.OperatorNagra, LicenseURL: "https://lic.example.com?Authorization=tok"}

	require.NoError(t, f.registry.Resume(context.Background(), record, license))

	list := f.registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.StateQueued, list[0].State)
	assert.Equal(t, "/cache/"+record.Identifier()+"/subtitles/en", list[0].Subtitles[0].LocalURL)
	require.NotNil(t, list[0].DRM)

	require.Equal(t, 1, f.engine.resumedCount())
	info := f.engine.lastResumed()
	assert.Equal(t, record.Identifier(), info.Identifier)
	assert.Equal(t, record.SourceURL, info.ManifestURL)
	assert.NotNil(t, info.License)

	assert.NotNil(t, f.notifier.lastListChange())
	assert.GreaterOrEqual(t, f.store.saveCount(), 1)
}

func TestResumeFailsWhenSubtitlesFail(t *testing.T) {
	f := newFixture(t)
	f.subtitles.fetchErr = errors.New("subtitle server down")

	record := testRecord("path/1")
	record.Subtitles = []domain.SubtitleTrack{{Language: "en", RemoteURL: "https://subs/en.vtt"}}

	err := f.registry.Resume(context.Background(), record, nil)
	assert.Error(t, err)
	assert.Empty(t, f.registry.List(), "failed admission leaves no record behind")
	assert.Equal(t, 1, f.notifier.failureCount())
}

func TestResumeWhileDownloadingIsNoop(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	f.registry.DownloadStateChanged(record.Identifier(), domain.StateDownloading)

	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/1"), nil))
	assert.Equal(t, 1, f.engine.resumedCount())
}

func TestResumeCompletedIsNoop(t *testing.T) {
	completed := testRecord("path/1")
	completed.State = domain.StateCompleted
	completed.Bookmark = "/cache/abc/asset"

	f := newFixture(t, completed)

	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/1"), nil))

	assert.Zero(t, f.engine.resumedCount(), "a finished asset is never re-downloaded")
	assert.Equal(t, domain.StateCompleted, f.registry.List()[0].State)
}

func TestResumePausedReusesSelectedBitrate(t *testing.T) {
	paused := testRecord("path/1")
	paused.State = domain.StatePaused
	paused.SelectedBitrate = 1250
	paused.LicenseKey = []byte("stored-key")

	f := newFixture(t, paused)

	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/1"), nil))

	info := f.engine.lastResumed()
	require.NotNil(t, info)
	assert.Equal(t, int64(1250), info.Bitrate)
	assert.Equal(t, []byte("stored-key"), info.PersistedKey)
}

func TestBitrateSelectionFlowsBackToRecord(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	id := record.Identifier()
	f.registry.DownloadStateChanged(id, domain.StateDownloading)

	saves := f.store.saveCount()
	f.registry.DownloadBitrateSelected(id, 1250)

	assert.Equal(t, int64(1250), f.registry.List()[0].SelectedBitrate)
	assert.Greater(t, f.store.saveCount(), saves, "the selected tier is persisted")

	// Pause and resume: the cached tier rides along on the engine handoff
	f.registry.Pause(testRecord("path/1"))
	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/1"), nil))
	assert.Equal(t, int64(1250), f.engine.lastResumed().Bitrate)
}

func TestPause(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	f.registry.DownloadStateChanged(record.Identifier(), domain.StateDownloading)

	f.registry.Pause(testRecord("path/1"))

	list := f.registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatePaused, list[0].State)
	assert.False(t, list[0].Interrupted, "user pause is not an interruption")
	assert.Equal(t, []string{record.Identifier()}, f.engine.cancelled)
	assert.Zero(t, f.notifier.failureCount(), "pausing is never an error")
}

func TestPauseUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	f.registry.Pause(testRecord("ghost"))
	assert.Empty(t, f.engine.cancelled)
}

func TestPauseQueuedRecord(t *testing.T) {
	f := newFixture(t)

	// Still Queued: the engine task may be waiting for a slot
	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))

	f.registry.Pause(testRecord("path/1"))

	assert.Equal(t, domain.StatePaused, f.registry.List()[0].State)
	assert.Equal(t, []string{record.Identifier()}, f.engine.cancelled)
}

func TestPauseLeavesTerminalStatesAlone(t *testing.T) {
	completed := testRecord("path/1")
	completed.State = domain.StateCompleted
	completed.Bookmark = "/cache/abc/asset"

	f := newFixture(t, completed)

	f.registry.Pause(testRecord("path/1"))

	assert.Equal(t, domain.StateCompleted, f.registry.List()[0].State)
	assert.Empty(t, f.engine.cancelled)
}

func TestDeleteRemovesRecordAndFiles(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	id := record.Identifier()

	f.registry.Delete(testRecord("path/1"))

	assert.Empty(t, f.registry.List())
	assert.Contains(t, f.engine.cancelled, id)
	assert.Contains(t, f.subtitles.removed, id)
	assert.Contains(t, f.images.removed, id)

	// Deleting again is a safe no-op
	saves := f.store.saveCount()
	f.registry.Delete(testRecord("path/1"))
	assert.Equal(t, saves, f.store.saveCount())
}

func TestBatchDelete(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/1"), nil))
	require.NoError(t, f.registry.Resume(context.Background(), testRecord("path/2"), nil))

	f.registry.BatchDelete([]*domain.DownloadRecord{testRecord("path/1"), testRecord("path/2")})
	assert.Empty(t, f.registry.List())
}

func TestDownloadLifecycleToCompleted(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	id := record.Identifier()

	f.registry.DownloadStateChanged(id, domain.StateDownloading)
	f.registry.DownloadLocationAvailable(id, "/cache/"+id+"/asset")
	f.registry.DownloadProgress(id, 512, 2048)
	f.registry.DownloadStateChanged(id, domain.StateCompleted)

	list := f.registry.List()
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, got.TotalBytes, got.BytesDownloaded, "completion clamps loaded to total")
	assert.Equal(t, "/cache/"+id+"/asset", got.Bookmark)
	assert.False(t, got.Interrupted)
	assert.Zero(t, f.notifier.failureCount())
}

func TestProgressIsMonotonicAndClamped(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	id := record.Identifier()
	f.registry.DownloadStateChanged(id, domain.StateDownloading)

	f.registry.DownloadProgress(id, 1000, 2048)
	f.registry.DownloadProgress(id, 400, 2048)
	assert.Equal(t, int64(1000), f.registry.List()[0].BytesDownloaded, "counters never decrease")

	f.registry.DownloadProgress(id, 5000, 2048)
	assert.Equal(t, int64(2048), f.registry.List()[0].BytesDownloaded, "loaded clamped to total")
}

func TestProgressForUnknownIdentifierIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.registry.DownloadProgress("ghost", 10, 20)
	f.registry.DownloadStateChanged("ghost", domain.StateCompleted)
	f.registry.DownloadLocationAvailable("ghost", "/nowhere")
	assert.Empty(t, f.registry.List())
}

func TestDownloadErrorRemovesRecord(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))
	id := record.Identifier()
	f.registry.DownloadStateChanged(id, domain.StateDownloading)

	f.registry.DownloadError(id, errors.New("segment fetch failed"))

	assert.Empty(t, f.registry.List(), "failed download disappears from the list")
	require.Equal(t, 1, f.notifier.failureCount())
	assert.Equal(t, "path/1", f.notifier.failures[0].PathID)
	assert.Contains(t, f.notifier.failures[0].Message, "segment fetch failed")
}

func TestRenewRequiresCompletedWithLocation(t *testing.T) {
	f := newFixture(t)

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil))

	f.registry.Renew(context.Background(), testRecord("path/1"), nil)

	require.Len(t, f.notifier.renewResults, 1)
	assert.False(t, f.notifier.renewResults[0].Success)
}

func TestRenewSuccessPersistsNewKey(t *testing.T) {
	completed := testRecord("path/1")
	completed.State = domain.StateCompleted
	completed.Bookmark = "/cache/abc/asset"
	completed.LicenseKey = []byte("old-key")

	f := newFixture(t, completed)
	f.engine.renewKey = []byte("new-key")

	f.registry.Renew(context.Background(), testRecord("path/1"), &domain.LicenseData{
		Operator:   domain.OperatorAzure,
		LicenseURL: "https://lic.example.com",
	})

	require.Len(t, f.notifier.renewResults, 1)
	assert.True(t, f.notifier.renewResults[0].Success)
	assert.Equal(t, []byte("new-key"), f.registry.List()[0].LicenseKey)
}

func TestRenewFailureKeepsOldKey(t *testing.T) {
	completed := testRecord("path/1")
	completed.State = domain.StateCompleted
	completed.Bookmark = "/cache/abc/asset"
	completed.LicenseKey = []byte("old-key")

	f := newFixture(t, completed)
	f.engine.renewErr = errors.New("license server unreachable")

	f.registry.Renew(context.Background(), testRecord("path/1"), nil)

	require.Len(t, f.notifier.renewResults, 1)
	assert.False(t, f.notifier.renewResults[0].Success)
	assert.Equal(t, []byte("old-key"), f.registry.List()[0].LicenseKey)
}

func TestCompletedFiltersAccountAndExpiry(t *testing.T) {
	mine := testRecord("path/1")
	mine.State = domain.StateCompleted

	expired := testRecord("path/2")
	expired.State = domain.StateCompleted
	past := time.Now().Add(-time.Hour)
	expired.ExpireDate = &past

	other := testRecord("path/3")
	other.State = domain.StateCompleted
	other.Account = "other@example.com"

	inFlight := testRecord("path/4")
	inFlight.State = domain.StatePaused

	f := newFixture(t, mine, expired, other, inFlight)

	got := f.registry.Completed("user@example.com")
	require.Len(t, got, 1)
	assert.Equal(t, "path/1", got[0].PathID)
}

func TestSetQuality(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.SetQuality(domain.QualityHigh))
	assert.Equal(t, domain.QualityHigh, f.engine.quality)

	assert.Error(t, f.registry.SetQuality(domain.Quality("4K")))
}

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("disk full")

	record := testRecord("path/1")
	require.NoError(t, f.registry.Resume(context.Background(), record, nil),
		"persistence problems never surface to the host")
	assert.Len(t, f.registry.List(), 1)
}
