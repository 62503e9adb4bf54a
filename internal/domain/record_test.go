package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierStableAcrossInstances(t *testing.T) {
	a := &DownloadRecord{PathID: "path/1", ProgramPathID: "program/1", Account: "user@example.com"}
	b := &DownloadRecord{PathID: "path/1", ProgramPathID: "program/1", Account: "user@example.com"}

	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.Len(t, a.Identifier(), 40)
}

func TestIdentifierDependsOnFullIdentity(t *testing.T) {
	base := &DownloadRecord{PathID: "path/1", ProgramPathID: "program/1", Account: "user@example.com"}

	otherAccount := &DownloadRecord{PathID: "path/1", ProgramPathID: "program/1", Account: "other@example.com"}
	otherProgram := &DownloadRecord{PathID: "path/1", ProgramPathID: "program/2", Account: "user@example.com"}
	otherPath := &DownloadRecord{PathID: "path/2", ProgramPathID: "program/1", Account: "user@example.com"}

	assert.NotEqual(t, base.Identifier(), otherAccount.Identifier())
	assert.NotEqual(t, base.Identifier(), otherProgram.Identifier())
	assert.NotEqual(t, base.Identifier(), otherPath.Identifier())
}

func TestSetBookmarkIfNeeded(t *testing.T) {
	record := &DownloadRecord{State: StateDownloading, LocalLocation: "/cache/abc/asset"}

	record.SetBookmarkIfNeeded()
	assert.Empty(t, record.Bookmark, "no bookmark before completion")

	record.State = StateCompleted
	record.SetBookmarkIfNeeded()
	assert.Equal(t, "/cache/abc/asset", record.Bookmark)

	// A later location change must not move the bookmark
	record.LocalLocation = "/cache/abc/other"
	record.SetBookmarkIfNeeded()
	assert.Equal(t, "/cache/abc/asset", record.Bookmark)
}

func TestLocation(t *testing.T) {
	inFlight := &DownloadRecord{State: StateDownloading, LocalLocation: "/tmp/live"}
	assert.Equal(t, "/tmp/live", inFlight.Location())

	completed := &DownloadRecord{State: StateCompleted, Bookmark: "/cache/done"}
	assert.Equal(t, "/cache/done", completed.Location())

	// Completed without a bookmark means the bundle is gone
	orphaned := &DownloadRecord{State: StateCompleted, LocalLocation: "/tmp/stale"}
	assert.Empty(t, orphaned.Location())
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, (&DownloadRecord{}).IsExpired(now), "no expire date never expires")

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	assert.True(t, (&DownloadRecord{ExpireDate: &past}).IsExpired(now))
	assert.False(t, (&DownloadRecord{ExpireDate: &future}).IsExpired(now))
}

func TestCloneIsDeep(t *testing.T) {
	expire := time.Now().Add(24 * time.Hour)
	record := &DownloadRecord{
		PathID:     "path/1",
		Account:    "user@example.com",
		LicenseKey: []byte("key-material"),
		DRM:        &LicenseData{Operator: OperatorAzure, LicenseURL: "https://lic.example.com"},
		Subtitles:  []SubtitleTrack{{Language: "en", RemoteURL: "https://subs/en.vtt"}},
		ExpireDate: &expire,
	}

	clone := record.Clone()
	require.NotSame(t, record, clone)

	clone.LicenseKey[0] = 'X'
	clone.DRM.LicenseURL = "https://changed"
	clone.Subtitles[0].Language = "fr"
	*clone.ExpireDate = expire.Add(time.Hour)

	assert.Equal(t, []byte("key-material"), record.LicenseKey)
	assert.Equal(t, "https://lic.example.com", record.DRM.LicenseURL)
	assert.Equal(t, "en", record.Subtitles[0].Language)
	assert.Equal(t, expire, *record.ExpireDate)
}

func TestValidOperator(t *testing.T) {
	assert.True(t, ValidOperator(OperatorAzure))
	assert.True(t, ValidOperator(OperatorVerimatrix))
	assert.True(t, ValidOperator(OperatorNagra))
	assert.False(t, ValidOperator(Operator("irdeto")))
	assert.False(t, ValidOperator(Operator("")))
}
