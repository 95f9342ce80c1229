package ota

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// LocalWatcher invalidates the catalog's digest cache when firmware is
// sideloaded into or removed from <root>/local, so the next listing reflects
// the directory without rehashing on every request.
type LocalWatcher struct {
	catalog *Catalog
	dir     string
	log     zerolog.Logger

	watcher *fsnotify.Watcher

	// Coalesce the event bursts a copy-in produces.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func NewLocalWatcher(catalog *Catalog, log zerolog.Logger) *LocalWatcher {
	return &LocalWatcher{
		catalog: catalog,
		dir:     filepath.Join(catalog.Root(), localDirName),
		log:     log.With().Str("component", "ota").Logger(),
	}
}

func (lw *LocalWatcher) Start() error {
	if err := os.MkdirAll(lw.dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(lw.dir); err != nil {
		w.Close()
		return err
	}
	lw.watcher = w

	go lw.watchLoop()
	lw.log.Info().Str("dir", lw.dir).Msg("watching local firmware directory")
	return nil
}

func (lw *LocalWatcher) Stop() {
	if lw.watcher != nil {
		lw.watcher.Close()
	}
	lw.debounceMu.Lock()
	if lw.debounceTimer != nil {
		lw.debounceTimer.Stop()
	}
	lw.debounceMu.Unlock()
}

func (lw *LocalWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			lw.scheduleInvalidate()

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleInvalidate debounces by 500ms so a file still being copied is
// hashed once, after it settles.
func (lw *LocalWatcher) scheduleInvalidate() {
	lw.debounceMu.Lock()
	defer lw.debounceMu.Unlock()

	if lw.debounceTimer != nil {
		lw.debounceTimer.Reset(500 * time.Millisecond)
		return
	}
	lw.debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
		lw.debounceMu.Lock()
		lw.debounceTimer = nil
		lw.debounceMu.Unlock()

		lw.catalog.Invalidate()
		lw.log.Debug().Msg("local firmware changed, digest cache invalidated")
	})
}
