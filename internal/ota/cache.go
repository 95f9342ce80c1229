package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/metrics"
)

// ErrNotFound means no cached file exists and no catalog entry matches.
var ErrNotFound = errors.New("ota file not found")

// UpstreamStatusError relays a non-200 from the firmware host so the caller
// can pass the status through.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

const downloadTimeout = 5 * time.Minute

// Cache stores firmware images under <root>/<version>/<platform>.bin and
// fills misses from the release catalog.
type Cache struct {
	root    string
	catalog *Catalog
	client  *http.Client
	log     zerolog.Logger
}

func NewCache(root string, catalog *Catalog, log zerolog.Logger) *Cache {
	return &Cache{
		root:    root,
		catalog: catalog,
		client:  &http.Client{Timeout: downloadTimeout},
		log:     log.With().Str("component", "ota").Logger(),
	}
}

// Get returns the on-disk path for a firmware image, downloading it from the
// catalog's download URL on a cache miss. ErrNotFound when neither the cache
// nor the catalog knows the version and platform.
func (c *Cache) Get(ctx context.Context, version, platform string) (string, error) {
	path, err := SecurePath(c.root, version, platform+".bin")
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		metrics.OTACacheHitsTotal.Inc()
		return path, nil
	}
	metrics.OTACacheMissesTotal.Inc()

	releases, err := c.catalog.Merged(ctx)
	if err != nil {
		return "", fmt.Errorf("release catalog: %w", err)
	}
	for _, release := range releases {
		if name, _ := release["name"].(string); name != version {
			continue
		}
		for _, asset := range releaseAssets(release) {
			if p, _ := asset["platform"].(string); p != platform {
				continue
			}
			downloadURL, _ := asset["browser_download_url"].(string)
			wantSHA, _ := asset["sha256"].(string)
			if err := c.download(ctx, downloadURL, path, wantSHA); err != nil {
				return "", err
			}
			c.log.Info().Str("version", version).Str("platform", platform).Msg("firmware cached")
			return path, nil
		}
	}

	return "", ErrNotFound
}

// CacheAsset pre-fetches one asset on admin request. An existing file with
// the expected size is kept; a size mismatch forces a refetch.
func (c *Cache) CacheAsset(ctx context.Context, version, platform, downloadURL string, size int64) error {
	path, err := SecurePath(c.root, version, platform+".bin")
	if err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		if info.Size() == size {
			return nil
		}
		c.log.Warn().Str("path", path).Int64("have", info.Size()).Int64("want", size).Msg("size mismatch, refetching")
		if err := os.Remove(path); err != nil {
			return err
		}
	}

	return c.download(ctx, downloadURL, path, "")
}

// Delete removes one cached file named by the admin UI.
func (c *Cache) Delete(path string) error {
	full, err := SecureResolve(c.root, path)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

// download fetches a firmware image and writes it atomically, optionally
// verifying its digest first so a corrupt transfer never lands in the cache.
func (c *Cache) download(ctx context.Context, url, dest, wantSHA string) error {
	if url == "" {
		return &UpstreamStatusError{StatusCode: http.StatusNotFound}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if wantSHA != "" {
		sum := sha256.Sum256(content)
		if got := hex.EncodeToString(sum[:]); got != wantSHA {
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", url, got, wantSHA)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(dest, content, 0o644)
}
