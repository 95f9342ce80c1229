package api

import (
	"net/http"
	"time"

	"github.com/roost-io/roost/internal/endpoint"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Devices       int               `json:"devices"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	store     *store.Store
	devices   *satellite.Manager
	endpoints *endpoint.Manager
	version   string
	startTime time.Time
}

func NewHealthHandler(st *store.Store, devices *satellite.Manager, endpoints *endpoint.Manager, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     st,
		devices:   devices,
		endpoints: endpoints,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Settings store check
	if err := h.store.HealthCheck(r.Context()); err != nil {
		checks["store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	// Command endpoint check; a server without one still serves devices.
	if ep := h.endpoints.Current(); ep != nil {
		checks["command_endpoint"] = ep.Name()
	} else {
		checks["command_endpoint"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Devices:       h.devices.Count(),
		Checks:        checks,
	})
}
