package infrastructure

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// HTTPStreamDownloader is the default StreamDownloader used when no
// platform downloader is injected. It inspects HLS master playlists for
// variant bitrates and alternative-track groups, and transfers the asset
// with plain HTTP GETs on a background goroutine per task. Anything
// smarter (per-segment scheduling, track muxing) belongs to a real
// platform engine plugged in behind the same interface.
type HTTPStreamDownloader struct {
	client    *http.Client
	cacheDir  string
	callbacks domain.StreamCallbacks
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewHTTPStreamDownloader creates the HTTP-backed stream downloader
func NewHTTPStreamDownloader(cacheDir string, client *http.Client, logger *zap.Logger) *HTTPStreamDownloader {
	return &HTTPStreamDownloader{
		client:   client,
		cacheDir: cacheDir,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetCallbacks installs the callback receiver; must be called before Start
func (d *HTTPStreamDownloader) SetCallbacks(cb domain.StreamCallbacks) {
	d.mu.Lock()
	d.callbacks = cb
	d.mu.Unlock()
}

// Inspect reads the master playlist and extracts variant peak bitrates
// plus the audio and subtitle alternative-track groups.
func (d *HTTPStreamDownloader) Inspect(ctx context.Context, manifestURL string) (*domain.ManifestInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch responded %d", resp.StatusCode)
	}

	info := &domain.ManifestInfo{}
	groups := map[string][]string{}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			if v := playlistAttr(line, "BANDWIDTH"); v != "" {
				if bandwidth, err := strconv.ParseInt(v, 10, 64); err == nil {
					info.VariantBitrates = append(info.VariantBitrates, bandwidth)
				}
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			mediaType := playlistAttr(line, "TYPE")
			name := strings.Trim(playlistAttr(line, "NAME"), `"`)
			if name == "" {
				continue
			}
			switch mediaType {
			case "AUDIO":
				groups["audible"] = append(groups["audible"], name)
			case "SUBTITLES":
				groups["legible"] = append(groups["legible"], name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, characteristic := range []string{"audible", "legible"} {
		if options := groups[characteristic]; len(options) > 0 {
			info.Groups = append(info.Groups, domain.MediaSelectionGroup{
				Characteristic: characteristic,
				Options:        options,
			})
		}
	}
	return info, nil
}

// Start begins the transfer on a background goroutine. Completion,
// location and progress are reported through the installed callbacks.
func (d *HTTPStreamDownloader) Start(task *domain.StreamTask) error {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.callbacks == nil {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("stream downloader has no callbacks installed")
	}
	if _, exists := d.cancels[task.Identifier]; exists {
		d.mu.Unlock()
		cancel()
		return nil
	}
	d.cancels[task.Identifier] = cancel
	cb := d.callbacks
	d.mu.Unlock()

	go func() {
		err := d.transfer(ctx, task, cb)
		d.mu.Lock()
		delete(d.cancels, task.Identifier)
		d.mu.Unlock()
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %s", domain.ErrCancelled, task.Identifier)
		}
		cb.TaskCompleted(task.Identifier, err)
	}()
	return nil
}

// Cancel stops an in-flight transfer; unknown identifiers are a no-op
func (d *HTTPStreamDownloader) Cancel(identifier string) error {
	d.mu.Lock()
	cancel, ok := d.cancels[identifier]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (d *HTTPStreamDownloader) transfer(ctx context.Context, task *domain.StreamTask, cb domain.StreamCallbacks) error {
	dir := filepath.Join(d.cacheDir, task.Identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	location := filepath.Join(dir, "asset")
	cb.TaskWillDownloadTo(task.Identifier, location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.ManifestURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset fetch responded %d", resp.StatusCode)
	}

	file, err := os.Create(location)
	if err != nil {
		return err
	}
	defer file.Close()

	total := resp.ContentLength
	var loaded int64
	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return err
			}
			loaded += int64(n)
			cb.TaskProgressBytes(task.Identifier, loaded, total)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// playlistAttr pulls one attribute value out of an HLS tag line. The key
// must sit on an attribute boundary: BANDWIDTH must not match inside
// AVERAGE-BANDWIDTH.
func playlistAttr(line, key string) string {
	rest := line
	for {
		idx := strings.Index(rest, key+"=")
		if idx < 0 {
			return ""
		}
		boundary := idx == 0 || rest[idx-1] == ',' || rest[idx-1] == ':'
		rest = rest[idx+len(key)+1:]
		if !boundary {
			continue
		}
		if strings.HasPrefix(rest, `"`) {
			if end := strings.Index(rest[1:], `"`); end >= 0 {
				return `"` + rest[1:end+1] + `"`
			}
			return rest
		}
		if end := strings.IndexAny(rest, ","); end >= 0 {
			return rest[:end]
		}
		return rest
	}
}
