package domain

// Store persists the full download record list as one blob under a
// well-known key. Writes happen at full-list granularity after every
// structural mutation; last writer wins. Only the registry's serialized
// mutation path may call Save.
type Store interface {
	// Load returns the persisted record list. Decode failures are treated
	// as "no data" by callers, never as fatal.
	Load() ([]*DownloadRecord, error)
	// Save replaces the persisted record list
	Save(records []*DownloadRecord) error
	// Migrate imports records from the legacy per-account store, removes
	// the legacy key, and reports what was imported. Running it when the
	// legacy key is absent is a no-op.
	Migrate() ([]*DownloadRecord, error)
	Close() error
}
