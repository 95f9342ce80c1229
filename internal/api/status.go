package api

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/roost-io/roost/internal/notify"
	"github.com/roost-io/roost/internal/satellite"
)

// StatusHandler exposes diagnostic snapshots of the server's runtime state
// for the admin UI.
type StatusHandler struct {
	devices *satellite.Manager
	queue   *notify.Queue
}

func NewStatusHandler(devices *satellite.Manager, queue *notify.Queue) *StatusHandler {
	return &StatusHandler{devices: devices, queue: queue}
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	statusType, _ := QueryString(r, "type")

	switch statusType {
	case "asyncio_tasks":
		// Wire name kept for admin UI compatibility; the payload is a list
		// of human-readable worker stats.
		WriteJSON(w, http.StatusOK, []string{
			fmt.Sprintf("runtime.goroutines: %d", runtime.NumGoroutine()),
			fmt.Sprintf("sessions.active: %d", h.devices.Count()),
			fmt.Sprintf("notify.pending: %d", h.queue.Depth()),
		})

	case "connmgr":
		WriteJSON(w, http.StatusOK, map[string]any{
			"connected_clients": h.devices.Snapshot(),
		})

	case "notify_queue":
		WriteJSON(w, http.StatusOK, map[string]any{
			"notifications": h.queue.Snapshot(),
		})

	default:
		WriteError(w, http.StatusBadRequest, "invalid status type")
	}
}
