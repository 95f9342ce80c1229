package api

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

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

// Options carries everything the HTTP server serves or mutates.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Devices   *satellite.Manager
	Wake      *wake.Arbiter
	Notify    *notify.Queue
	Endpoints *endpoint.Manager
	Catalog   *ota.Catalog
	Cache     *ota.Cache
	Upstream  *upstream.Client

	// WebFS holds the admin UI served at /admin/; nil disables it.
	WebFS     fs.FS
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Log.With().Str("component", "api").Logger()
	cfg := opts.Config

	ws := NewDeviceSocket(DeviceSocketOptions{
		Store:     opts.Store,
		Devices:   opts.Devices,
		Wake:      opts.Wake,
		Notify:    opts.Notify,
		Endpoints: opts.Endpoints,
		Log:       opts.Log,
	})
	assets := NewAssetHandler(cfg.AssetDir, opts.Log)
	clients := NewClientHandler(opts.Devices, opts.Store, opts.Notify, opts.Upstream, opts.Log)
	configs := NewConfigHandler(opts.Store, opts.Devices, opts.Endpoints, opts.Upstream, opts.Log)
	firmware := NewOTAHandler(opts.Cache, opts.Log)
	releases := NewReleaseHandler(opts.Catalog, opts.Cache, opts.Store, opts.Log)
	status := NewStatusHandler(opts.Devices, opts.Notify)
	info := NewInfoHandler(opts.Version)
	models := NewModelHandler(opts.Upstream, opts.Log)
	health := NewHealthHandler(opts.Store, opts.Devices, opts.Endpoints, opts.Version, opts.StartTime)

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))

	// The device socket sits outside the browser middleware: CORS and rate
	// limits do not apply to firmware clients, and the upgrade needs a
	// hijackable writer.
	r.Get("/ws", ws.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(CORSWithOrigins(splitOrigins(cfg.CORSOrigins)))
		r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Use(metrics.InstrumentHandler)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/admin/", http.StatusTemporaryRedirect)
		})
		if opts.WebFS != nil {
			r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/admin/", http.StatusTemporaryRedirect)
			})
			r.Handle("/admin/*", http.StripPrefix("/admin/", http.FileServer(http.FS(opts.WebFS))))
		}

		r.Get("/health", health.ServeHTTP)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/asset", assets.GetAsset)
			r.Get("/client", clients.ListClients)
			r.Get("/config", configs.GetConfig)
			r.Get("/info", info.GetInfo)
			r.Get("/model", models.GetModels)
			r.Get("/ota", firmware.GetFirmware)
			r.Get("/release", releases.ListReleases)
			r.Get("/status", status.GetStatus)

			// Mutations require the admin token when one is configured.
			r.Group(func(r chi.Router) {
				r.Use(BearerAuth(cfg.AuthToken))
				r.Post("/client", clients.PostClient)
				r.Post("/config", configs.PostConfig)
				r.Post("/release", releases.PostRelease)
			})
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// splitOrigins parses the comma-separated CORS origin allowlist.
func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
