package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStats provides the metrics collector access to live device sessions.
type SessionStats interface {
	Count() int
	ActiveNotificationCount() int
}

// QueueStats provides the metrics collector access to the notification queue.
type QueueStats interface {
	Depth() int
}

// EndpointStats provides the metrics collector access to the command
// endpoint's in-flight state.
type EndpointStats interface {
	PendingCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	sessions SessionStats
	queue    QueueStats
	endpoint EndpointStats

	// Descriptors for scrape-time gauges.
	connectedDevices    *prometheus.Desc
	activeNotifications *prometheus.Desc
	queueDepth          *prometheus.Desc
	pendingCommands     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any source may be nil (its metrics will report 0).
func NewCollector(sessions SessionStats, queue QueueStats, endpoint EndpointStats) *Collector {
	return &Collector{
		sessions: sessions,
		queue:    queue,
		endpoint: endpoint,
		connectedDevices: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connected_devices"),
			"Current number of connected device sessions.",
			nil, nil,
		),
		activeNotifications: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "notifications_active"),
			"Devices currently showing a notification.",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "notify_queue_depth"),
			"Notifications waiting across all per-device queues.",
			nil, nil,
		),
		pendingCommands: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "endpoint_pending_commands"),
			"Commands awaiting a response from the command endpoint.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedDevices
	ch <- c.activeNotifications
	ch <- c.queueDepth
	ch <- c.pendingCommands
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.connectedDevices, prometheus.GaugeValue, float64(c.sessions.Count()))
		ch <- prometheus.MustNewConstMetric(c.activeNotifications, prometheus.GaugeValue, float64(c.sessions.ActiveNotificationCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.connectedDevices, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.activeNotifications, prometheus.GaugeValue, 0)
	}

	if c.queue != nil {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.queue.Depth()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, 0)
	}

	if c.endpoint != nil {
		ch <- prometheus.MustNewConstMetric(c.pendingCommands, prometheus.GaugeValue, float64(c.endpoint.PendingCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.pendingCommands, prometheus.GaugeValue, 0)
	}
}
