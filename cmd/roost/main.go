package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	roost "github.com/roost-io/roost"
	"github.com/roost-io/roost/internal/api"
	"github.com/roost-io/roost/internal/config"
	"github.com/roost-io/roost/internal/endpoint"
	"github.com/roost-io/roost/internal/metrics"
	"github.com/roost-io/roost/internal/notify"
	"github.com/roost-io/roost/internal/ota"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
	"github.com/roost-io/roost/internal/upstream"
	"github.com/roost-io/roost/internal/wake"
)

// version, commit, and buildTime are injected at build time via ldflags.
// See Makefile or build script for usage.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// CLI flags
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.ListenAddr, "listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	flag.StringVar(&overrides.StorageDir, "storage-dir", "", "Settings and firmware directory (overrides STORAGE_DIR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	// Config (loads .env automatically, then env vars, then CLI overrides)
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(logWriter(cfg.LogFormat)).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("roost starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Settings store
	storeLog := log.With().Str("component", "store").Logger()
	st, err := store.Open(cfg.StorePath(), storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open settings store")
	}
	defer st.Close()

	// One-time import of legacy JSON settings files left by older releases
	if err := st.MigrateLegacy(cfg.StorageDir); err != nil {
		log.Warn().Err(err).Msg("legacy settings migration failed")
	}

	for _, dir := range []string{cfg.OTADir, cfg.AssetDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create storage directory")
		}
	}

	// Hosted Willow services (releases, default configs, timezones, models)
	up := upstream.NewClient(upstream.Options{
		ReleasesURL: cfg.ReleasesURL,
		ConfigURL:   cfg.ConfigURL,
		TZURL:       cfg.TZURL,
		ModelsURL:   cfg.ModelsURL,
		TZPath:      cfg.TZCachePath(),
		Log:         log,
	})
	// Refresh the timezone map in the background. Devices read the cached
	// copy, so a failure here only matters on a box that has never been
	// online.
	go func() {
		tzCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := up.TZ(tzCtx, true); err != nil {
			log.Warn().Err(err).Msg("timezone refresh failed")
		}
	}()

	// Device sessions
	devices := satellite.NewManager(log)

	// Wake word arbitration
	arbiter := wake.NewArbiter(wake.Options{Log: log})
	defer arbiter.Stop()

	// Notification delivery
	queue := notify.NewQueue(notify.Options{Manager: devices, Log: log})
	queue.Start(ctx)

	// Command endpoint (Home Assistant, openHAB, MQTT, REST)
	endpoints := endpoint.NewManager(log)
	endpoints.Reload(st.ReadConfig())
	defer endpoints.Stop()

	// Firmware catalog, cache, and local build watcher
	catalog := ota.NewCatalog(cfg.OTADir, up, log)
	cache := ota.NewCache(cfg.OTADir, catalog, log)
	watcher := ota.NewLocalWatcher(catalog, log)
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("local build watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	prometheus.MustRegister(metrics.NewCollector(devices, queue, endpoints))

	// Auth status
	if cfg.AuthToken == "" {
		log.Warn().Msg("AUTH_TOKEN not set — mutating endpoints are open")
	} else {
		log.Info().Msg("AUTH_TOKEN loaded from configuration")
	}

	webFS, err := fs.Sub(roost.WebFiles, "web/admin")
	if err != nil {
		log.Fatal().Err(err).Msg("embedded web assets missing")
	}

	// HTTP server
	srv := api.NewServer(api.Options{
		Config:    cfg,
		Store:     st,
		Devices:   devices,
		Wake:      arbiter,
		Notify:    queue,
		Endpoints: endpoints,
		Catalog:   catalog,
		Cache:     cache,
		Upstream:  up,
		WebFS:     webFS,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       log,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("roost ready")

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("roost stopped")
}

// logWriter picks the log output: json is raw zerolog, console is
// human-readable, auto selects console only when stdout is a terminal.
func logWriter(format string) io.Writer {
	switch format {
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stdout}
	case "json":
		return os.Stdout
	}
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return os.Stdout
}
