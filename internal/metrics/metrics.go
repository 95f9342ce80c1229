package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roost"

// HTTP metrics, incremented by the instrumentation middleware.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B → 100MB
	}, []string{"method", "path_pattern"})
)

// Device session counters (incremented by the WebSocket layer).
var (
	DeviceConnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_connects_total",
		Help:      "Total device WebSocket connections accepted.",
	})

	DeviceDisconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_disconnects_total",
		Help:      "Total device WebSocket disconnects.",
	})

	DeviceMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_messages_total",
		Help:      "Device messages received per message type.",
	}, []string{"type"})

	BroadcastErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_errors_total",
		Help:      "Per-recipient send failures during broadcasts.",
	})
)

// Wake arbitration counters.
var (
	WakeSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wake_sessions_total",
		Help:      "Total wake arbitration windows opened.",
	})

	WakeEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wake_events_total",
		Help:      "Total wake events received from devices.",
	})
)

// Notification queue counters.
var (
	NotificationsEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_enqueued_total",
		Help:      "Notifications accepted into per-device queues.",
	})

	NotificationsDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_delivered_total",
		Help:      "Notifications sent to a device.",
	})

	NotificationsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_expired_total",
		Help:      "Notifications dropped after exceeding the age limit.",
	})

	NotificationsCanceledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_canceled_total",
		Help:      "Notification cancel broadcasts sent after completion.",
	})
)

// Command endpoint counters.
var (
	EndpointSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "endpoint_sends_total",
		Help:      "Commands forwarded per endpoint type.",
	}, []string{"endpoint"})

	EndpointErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "endpoint_errors_total",
		Help:      "Command forwarding failures per endpoint type.",
	}, []string{"endpoint"})
)

// Release cache and upstream counters.
var (
	OTACacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ota_cache_hits_total",
		Help:      "OTA requests served from the local cache.",
	})

	OTACacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ota_cache_misses_total",
		Help:      "OTA requests that required an upstream fetch.",
	})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Upstream HTTP fetches per target.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPResponseSize,
		DeviceConnectsTotal,
		DeviceDisconnectsTotal,
		DeviceMessagesTotal,
		BroadcastErrorsTotal,
		WakeSessionsTotal,
		WakeEventsTotal,
		NotificationsEnqueuedTotal,
		NotificationsDeliveredTotal,
		NotificationsExpiredTotal,
		NotificationsCanceledTotal,
		EndpointSendsTotal,
		EndpointErrorsTotal,
		OTACacheHitsTotal,
		OTACacheMissesTotal,
		UpstreamRequestsTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
		HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(sw.written))
	})
}

// statusWriter wraps http.ResponseWriter to capture status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers (e.g. http.Hijacker for WebSocket upgrades).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
