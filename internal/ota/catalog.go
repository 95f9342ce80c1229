// Package ota maintains the firmware release catalog and the on-disk cache
// satellites pull upgrade images from. Releases pass through from the
// upstream catalog as decoded JSON so unknown fields survive; sideloaded
// builds under <root>/local are folded in as a synthetic release.
package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	localDirName   = "local"
	localAssetURL  = "https://heywillow.io"
	platformImage  = "https://heywillow.io/images/esp32_s3_box.png"
	createdAtShape = "2006-01-02T15:04:05Z"
)

// ReleaseLister fetches the upstream release catalog.
type ReleaseLister interface {
	Releases(ctx context.Context) ([]map[string]any, error)
}

// Catalog merges upstream releases with locally sideloaded firmware.
type Catalog struct {
	root     string
	upstream ReleaseLister
	log      zerolog.Logger

	mu  sync.Mutex
	sha map[string]shaEntry
}

// shaEntry memoizes a file digest; rehashing happens only when size or
// mtime moves.
type shaEntry struct {
	size  int64
	mtime time.Time
	sum   string
}

func NewCatalog(root string, upstream ReleaseLister, log zerolog.Logger) *Catalog {
	return &Catalog{
		root:     root,
		upstream: upstream,
		log:      log.With().Str("component", "ota").Logger(),
		sha:      make(map[string]shaEntry),
	}
}

// Root exposes the OTA directory for handlers that report paths.
func (c *Catalog) Root() string { return c.root }

// Local lists sideloaded firmware under <root>/local as one synthetic
// release shaped like an upstream catalog entry.
func (c *Catalog) Local() []map[string]any {
	localDir := filepath.Join(c.root, localDirName)
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil
	}

	var assets []map[string]any
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, ".bin") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			c.log.Warn().Err(err).Str("file", name).Msg("skipping local build")
			continue
		}
		sum, err := c.fileSHA256(filepath.Join(localDir, name), info)
		if err != nil {
			c.log.Warn().Err(err).Str("file", name).Msg("skipping local build")
			continue
		}

		platform := strings.ReplaceAll(name, ".bin", "")
		assets = append(assets, map[string]any{
			"name":                 "willow-ota-" + name,
			"tag_name":             "willow-ota-" + name,
			"platform":             platform,
			"platform_name":        platform,
			"platform_image":       platformImage,
			"build_type":           "ota",
			"url":                  localAssetURL,
			"id":                   rand.Intn(90) + 10,
			"content_type":         "raw",
			"size":                 info.Size(),
			"created_at":           info.ModTime().UTC().Format(createdAtShape),
			"browser_download_url": localAssetURL,
			"sha256":               sum,
		})
	}
	if len(assets) == 0 {
		return nil
	}

	return []map[string]any{{
		"name":     "local",
		"tag_name": "local",
		"id":       rand.Intn(90) + 10,
		"url":      localAssetURL,
		"html_url": localAssetURL,
		"assets":   assets,
	}}
}

// Merged returns local releases first, then the upstream catalog. An
// upstream failure fails the whole listing; local scan problems only cost
// the affected files.
func (c *Catalog) Merged(ctx context.Context) ([]map[string]any, error) {
	upstream, err := c.upstream.Releases(ctx)
	if err != nil {
		return nil, err
	}
	return append(c.Local(), upstream...), nil
}

// AnnotateForDevices decorates every asset with the URL satellites should
// pull the image from (through this server) and whether it is already
// cached on disk.
func (c *Catalog) AnnotateForDevices(releases []map[string]any, wasURL string) {
	for _, release := range releases {
		tag, _ := release["tag_name"].(string)
		for _, asset := range releaseAssets(release) {
			platform, _ := asset["platform"].(string)
			u, err := ReleaseURL(wasURL, tag, platform)
			if err != nil {
				c.log.Error().Err(err).Str("tag", tag).Msg("release URL build failed")
				continue
			}
			asset["was_url"] = u
			_, statErr := os.Stat(filepath.Join(c.root, tag, platform+".bin"))
			asset["cached"] = statErr == nil
		}
	}
}

// Invalidate drops memoized digests; the next Local call rehashes.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	clear(c.sha)
	c.mu.Unlock()
}

func (c *Catalog) fileSHA256(path string, info os.FileInfo) (string, error) {
	c.mu.Lock()
	entry, ok := c.sha[path]
	c.mu.Unlock()
	if ok && entry.size == info.Size() && entry.mtime.Equal(info.ModTime()) {
		return entry.sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	c.mu.Lock()
	c.sha[path] = shaEntry{size: info.Size(), mtime: info.ModTime(), sum: sum}
	c.mu.Unlock()
	return sum, nil
}

// releaseAssets reads the assets list of a release record regardless of
// whether it was built locally or decoded from upstream JSON.
func releaseAssets(release map[string]any) []map[string]any {
	switch v := release["assets"].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, a := range v {
			if m, ok := a.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// ReleaseURL rewrites the stored WAS WebSocket URL into the HTTP URL a
// satellite fetches this version and platform from.
func ReleaseURL(wasURL, version, platform string) (string, error) {
	u, err := url.Parse(wasURL)
	if err != nil {
		return "", err
	}
	var scheme string
	switch u.Scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	default:
		return "", fmt.Errorf("unsupported WAS URL scheme %q", u.Scheme)
	}
	return fmt.Sprintf("%s://%s/api/ota?version=%s&platform=%s", scheme, u.Host, version, platform), nil
}
