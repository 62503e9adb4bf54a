package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourusername/offline-downloader/internal/domain"
)

const (
	// downloadsKey is the single well-known key holding the serialized
	// record array.
	downloadsKey = "media_cache"
	// legacyDownloadsKey is the superseded per-account layout written by
	// earlier releases. Read once by Migrate, never written again.
	legacyDownloadsKey = "downloadingKey"
)

// kvEntry is one persisted blob in the key-value table
type kvEntry struct {
	Key   string `gorm:"primaryKey"`
	Value []byte
}

func (kvEntry) TableName() string { return "kv_entries" }

// SQLiteStore implements domain.Store on a SQLite-backed key-value table
type SQLiteStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSQLiteStore opens (and migrates the schema of) the backing database
func NewSQLiteStore(dbPath string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// Load returns the persisted record list. A missing key or an undecodable
// blob both yield an empty list: persistence problems never propagate past
// this layer.
func (s *SQLiteStore) Load() ([]*domain.DownloadRecord, error) {
	var entry kvEntry
	err := s.db.First(&entry, "key = ?", downloadsKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []*domain.DownloadRecord
	if err := json.Unmarshal(entry.Value, &records); err != nil {
		s.log.Warn("persisted downloads undecodable, starting empty", zap.Error(err))
		return nil, nil
	}
	return records, nil
}

// Save replaces the persisted record list
func (s *SQLiteStore) Save(records []*domain.DownloadRecord) error {
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode downloads: %w", err)
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kvEntry{Key: downloadsKey, Value: value}).Error
}

// legacyRecord is the superseded on-disk record encoding
type legacyRecord struct {
	PathID        string `json:"pathId"`
	ProgramPathID string `json:"programPathId"`
	URL           string `json:"url"`
	Location      string `json:"location"`
	CKCData       []byte `json:"ckcData"`
	Subtitles     []struct {
		Language  string `json:"language"`
		WebURL    string `json:"webUrl"`
		LocalPath string `json:"localPath"`
	} `json:"subtitles"`
}

// Migrate imports the legacy store, keyed by account-email strings mapping
// to arrays of legacy records. It runs at most once: the legacy key is
// removed afterwards, and its absence means already migrated or never
// existed.
func (s *SQLiteStore) Migrate() ([]*domain.DownloadRecord, error) {
	var entry kvEntry
	err := s.db.First(&entry, "key = ?", legacyDownloadsKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var legacy map[string][]legacyRecord
	if err := json.Unmarshal(entry.Value, &legacy); err != nil {
		s.log.Warn("legacy downloads undecodable, dropping legacy store", zap.Error(err))
		legacy = nil
	}

	var migrated []*domain.DownloadRecord
	for account, items := range legacy {
		if !strings.Contains(account, "@") {
			// Legacy layout only used account-email keys
			continue
		}
		for _, old := range items {
			if old.Location == "" {
				// Only completed legacy downloads carried a location;
				// anything else is unrecoverable.
				continue
			}
			record := &domain.DownloadRecord{
				PathID:        old.PathID,
				ProgramPathID: old.ProgramPathID,
				Account:       account,
				SourceURL:     old.URL,
				State:         domain.StateCompleted,
				LocalLocation: old.Location,
				LicenseKey:    old.CKCData,
			}
			record.SetBookmarkIfNeeded()
			for _, sub := range old.Subtitles {
				record.Subtitles = append(record.Subtitles, domain.SubtitleTrack{
					Language:  sub.Language,
					RemoteURL: sub.WebURL,
					LocalURL:  sub.LocalPath,
				})
			}
			migrated = append(migrated, record)
		}
	}

	if err := s.db.Delete(&kvEntry{}, "key = ?", legacyDownloadsKey).Error; err != nil {
		return nil, fmt.Errorf("remove legacy store: %w", err)
	}
	if len(migrated) > 0 {
		s.log.Info("migrated legacy downloads", zap.Int("count", len(migrated)))
	}
	return migrated, nil
}

// Close closes the backing database
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
