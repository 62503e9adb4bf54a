package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

const subtitlesDir = "subtitles"

// SubtitleCache fetches external subtitle files to local disk before a
// download is admitted, so completed assets play offline with their
// subtitles available.
type SubtitleCache struct {
	cacheDir string
	client   *http.Client
	logger   *zap.Logger
}

// NewSubtitleCache creates a subtitle cache rooted at cacheDir
func NewSubtitleCache(cacheDir string, client *http.Client, logger *zap.Logger) *SubtitleCache {
	return &SubtitleCache{cacheDir: cacheDir, client: client, logger: logger}
}

// Fetch downloads every subtitle track for the identifier and returns the
// list with LocalURL populated. Any individual failure aborts the whole
// fetch: a download without its subtitles is not admitted.
func (c *SubtitleCache) Fetch(ctx context.Context, identifier string, subtitles []domain.SubtitleTrack) ([]domain.SubtitleTrack, error) {
	if len(subtitles) == 0 {
		return nil, nil
	}

	cached := make([]domain.SubtitleTrack, 0, len(subtitles))
	for _, sub := range subtitles {
		dir := filepath.Join(c.cacheDir, identifier, subtitlesDir, sub.Language)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create subtitle dir: %w", err)
		}
		name := path.Base(sub.RemoteURL)
		if name == "." || name == "/" {
			name = sub.Language + ".vtt"
		}
		local := filepath.Join(dir, name)
		if err := fetchToFile(ctx, c.client, sub.RemoteURL, local); err != nil {
			return nil, fmt.Errorf("fetch subtitle %q: %w", sub.Language, err)
		}
		cached = append(cached, domain.SubtitleTrack{
			Language:  sub.Language,
			RemoteURL: sub.RemoteURL,
			LocalURL:  local,
		})
	}

	c.logger.Debug("cached subtitles",
		zap.String("identifier", identifier), zap.Int("count", len(cached)))
	return cached, nil
}

// Remove deletes all cached files for the identifier
func (c *SubtitleCache) Remove(identifier string) error {
	return os.RemoveAll(filepath.Join(c.cacheDir, identifier))
}

func fetchToFile(ctx context.Context, client *http.Client, remoteURL, local string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded %d", resp.StatusCode)
	}

	file, err := os.Create(local)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(local)
		return err
	}
	return nil
}
