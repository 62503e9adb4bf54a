package infrastructure

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

const imagesDir = "images"

// ImageCache stores thumbnail images for offline list rendering. Caching
// is best effort: a missing thumbnail never blocks a download.
type ImageCache struct {
	cacheDir string
	client   *http.Client
	logger   *zap.Logger
}

// NewImageCache creates an image cache rooted at cacheDir
func NewImageCache(cacheDir string, client *http.Client, logger *zap.Logger) *ImageCache {
	return &ImageCache{cacheDir: cacheDir, client: client, logger: logger}
}

// Fetch caches the given image URLs for the identifier, skipping empties
// and logging individual failures instead of returning them.
func (c *ImageCache) Fetch(ctx context.Context, identifier string, imageURLs ...string) {
	for _, imageURL := range imageURLs {
		if imageURL == "" {
			continue
		}
		dir := filepath.Join(c.cacheDir, identifier, imagesDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn("create image dir failed",
				zap.String("identifier", identifier), zap.Error(err))
			continue
		}
		local := filepath.Join(dir, path.Base(imageURL))
		if err := fetchToFile(ctx, c.client, imageURL, local); err != nil {
			c.logger.Warn("image cache failed",
				zap.String("url", imageURL), zap.Error(err))
		}
	}
}

// Remove deletes all cached images for the identifier
func (c *ImageCache) Remove(identifier string) error {
	return os.RemoveAll(filepath.Join(c.cacheDir, identifier, imagesDir))
}
