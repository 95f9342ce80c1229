package ota

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

// firmwareServer serves one payload and counts fetches.
func firmwareServer(t *testing.T, status int, payload []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.WriteHeader(status)
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func newTestCache(t *testing.T, releases []map[string]any) *Cache {
	t.Helper()
	root := t.TempDir()
	catalog := NewCatalog(root, &fakeLister{releases: releases}, zerolog.Nop())
	return NewCache(root, catalog, zerolog.Nop())
}

func mockRelease(version, platform, downloadURL, sha string) map[string]any {
	asset := map[string]any{
		"platform":             platform,
		"browser_download_url": downloadURL,
	}
	if sha != "" {
		asset["sha256"] = sha
	}
	return map[string]any{
		"name":     version,
		"tag_name": version,
		"assets":   []any{asset},
	}
}

func TestCache_GetDownloadsOnce(t *testing.T) {
	payload := []byte("mocked data")
	srv, fetches := firmwareServer(t, http.StatusOK, payload)
	c := newTestCache(t, []map[string]any{
		mockRelease("0.0.0-mock.0", "ESP32-S3-BOX-3", srv.URL+"/fw.bin", ""),
	})

	path, err := c.Get(context.Background(), "0.0.0-mock.0", "ESP32-S3-BOX-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, payload) {
		t.Errorf("cached file = %q, want %q", first, payload)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}

	again, err := c.Get(context.Background(), "0.0.0-mock.0", "ESP32-S3-BOX-3")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	second, err := os.ReadFile(again)
	if err != nil {
		t.Fatal(err)
	}
	if again != path || !bytes.Equal(first, second) {
		t.Error("second Get changed the cached file")
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches after cache hit = %d, want 1", n)
	}
}

func TestCache_GetUnknown(t *testing.T) {
	srv, _ := firmwareServer(t, http.StatusOK, []byte("fw"))
	c := newTestCache(t, []map[string]any{
		mockRelease("0.0.0-mock.0", "ESP32-S3-BOX-3", srv.URL, ""),
	})

	for _, tt := range []struct{ version, platform string }{
		{"9.9.9", "ESP32-S3-BOX-3"},
		{"0.0.0-mock.0", "UNKNOWN-PLATFORM"},
	} {
		if _, err := c.Get(context.Background(), tt.version, tt.platform); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q, %q) error = %v, want ErrNotFound", tt.version, tt.platform, err)
		}
	}
}

func TestCache_GetTraversal(t *testing.T) {
	c := newTestCache(t, nil)
	_, err := c.Get(context.Background(), "0.0.0-mock.0/../../..", "foo")
	if !errors.Is(err, ErrUnsafePath) {
		t.Errorf("error = %v, want ErrUnsafePath", err)
	}
}

func TestCache_GetChecksum(t *testing.T) {
	payload := []byte("mocked data")
	srv, _ := firmwareServer(t, http.StatusOK, payload)

	t.Run("match", func(t *testing.T) {
		c := newTestCache(t, []map[string]any{
			mockRelease("v1", "esp32", srv.URL, sha256hex(payload)),
		})
		if _, err := c.Get(context.Background(), "v1", "esp32"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		c := newTestCache(t, []map[string]any{
			mockRelease("v1", "esp32", srv.URL, sha256hex([]byte("tampered"))),
		})
		if _, err := c.Get(context.Background(), "v1", "esp32"); err == nil {
			t.Fatal("expected checksum error")
		}
		if _, err := os.Stat(filepath.Join(c.root, "v1", "esp32.bin")); !os.IsNotExist(err) {
			t.Error("corrupt download landed in the cache")
		}
	})
}

func TestCache_GetUpstreamStatus(t *testing.T) {
	srv, _ := firmwareServer(t, http.StatusForbidden, nil)
	c := newTestCache(t, []map[string]any{
		mockRelease("v1", "esp32", srv.URL, ""),
	})

	_, err := c.Get(context.Background(), "v1", "esp32")
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("error = %v, want UpstreamStatusError 403", err)
	}
}

func TestCache_GetMissingDownloadURL(t *testing.T) {
	c := newTestCache(t, []map[string]any{
		mockRelease("v1", "esp32", "", ""),
	})

	_, err := c.Get(context.Background(), "v1", "esp32")
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want UpstreamStatusError 404", err)
	}
}

func TestCache_CacheAsset(t *testing.T) {
	payload := []byte("mocked data")

	t.Run("size_match_skips_fetch", func(t *testing.T) {
		srv, fetches := firmwareServer(t, http.StatusOK, payload)
		c := newTestCache(t, nil)
		path := filepath.Join(c.root, "v1", "esp32.bin")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			t.Fatal(err)
		}

		if err := c.CacheAsset(context.Background(), "v1", "esp32", srv.URL, int64(len(payload))); err != nil {
			t.Fatalf("CacheAsset: %v", err)
		}
		if n := fetches.Load(); n != 0 {
			t.Errorf("fetches = %d, want 0", n)
		}
	})

	t.Run("size_mismatch_refetches", func(t *testing.T) {
		srv, fetches := firmwareServer(t, http.StatusOK, payload)
		c := newTestCache(t, nil)
		path := filepath.Join(c.root, "v1", "esp32.bin")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("truncated"), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := c.CacheAsset(context.Background(), "v1", "esp32", srv.URL, int64(len(payload))); err != nil {
			t.Fatalf("CacheAsset: %v", err)
		}
		if n := fetches.Load(); n != 1 {
			t.Errorf("fetches = %d, want 1", n)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("cached file = %q, want %q", got, payload)
		}
	})

	t.Run("fresh_download", func(t *testing.T) {
		srv, fetches := firmwareServer(t, http.StatusOK, payload)
		c := newTestCache(t, nil)
		if err := c.CacheAsset(context.Background(), "v1", "esp32", srv.URL, int64(len(payload))); err != nil {
			t.Fatalf("CacheAsset: %v", err)
		}
		if n := fetches.Load(); n != 1 {
			t.Errorf("fetches = %d, want 1", n)
		}
	})

	t.Run("relays_upstream_status", func(t *testing.T) {
		srv, _ := firmwareServer(t, http.StatusBadGateway, nil)
		c := newTestCache(t, nil)
		err := c.CacheAsset(context.Background(), "v1", "esp32", srv.URL, 4)
		var statusErr *UpstreamStatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
			t.Errorf("error = %v, want UpstreamStatusError 502", err)
		}
	})
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t, nil)
	path := filepath.Join(c.root, "v1", "esp32.bin")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("fw"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still present after Delete")
	}

	if err := c.Delete("../outside.bin"); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("traversal delete error = %v, want ErrUnsafePath", err)
	}
	if err := c.Delete("/etc/passwd"); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("absolute delete error = %v, want ErrUnsafePath", err)
	}
}
