package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Download DownloadConfig `mapstructure:"download"`
	DRM      DRMConfig      `mapstructure:"drm"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains the bridge HTTP surface configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	CacheDir        string        `mapstructure:"cache_dir"`
	DatabasePath    string        `mapstructure:"database_path"`
	ConcurrentLimit int           `mapstructure:"concurrent_limit"`
	Quality         Quality       `mapstructure:"quality"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// DRMConfig contains license acquisition configuration
type DRMConfig struct {
	// CertificateURLs maps a DRM system to its application certificate
	// endpoint; fetched once per process and cached in memory.
	CertificateURLs map[string]string `mapstructure:"certificate_urls"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout"`
	// SimulatedEnvironment marks execution environments without real DRM
	// hardware, where transfer failures are classified as unsupported
	// environment rather than genuine errors.
	SimulatedEnvironment bool `mapstructure:"simulated_environment"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Download: DownloadConfig{
			CacheDir:        "$HOME/.offline-downloader/media_cache",
			DatabasePath:    "$HOME/.offline-downloader/downloads.db",
			ConcurrentLimit: 3,
			Quality:         QualityMedium,
			FetchTimeout:    30 * time.Second,
		},
		DRM: DRMConfig{
			CertificateURLs: map[string]string{},
			RequestTimeout:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
