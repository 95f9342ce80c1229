// Package notify queues timed notifications per device MAC and paces
// delivery: FIFO order, at most one notification in flight per device, and
// an age limit after which undelivered notifications are dropped.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/metrics"
	"github.com/roost-io/roost/internal/satellite"
)

// Expiry is how old a notification id may be before the queue drops it
// instead of delivering.
const Expiry = time.Hour

// DefaultTick is the dequeue loop period.
const DefaultTick = time.Second

// Notification is the payload delivered inside a notify command. Field order
// matches the device's expected wire shape.
type Notification struct {
	AudioURL       *string `json:"audio_url,omitempty"`
	Backlight      bool    `json:"backlight"`
	BacklightMax   bool    `json:"backlight_max"`
	Cancel         bool    `json:"cancel"`
	ID             int64   `json:"id"`
	Repeat         int     `json:"repeat"`
	StrobePeriodMS int     `json:"strobe_period_ms"`
	Text           *string `json:"text,omitempty"`
	Volume         *int    `json:"volume,omitempty"`
}

// Validate rejects payloads a device would misrender.
func (n *Notification) Validate() error {
	if n.Volume != nil && (*n.Volume < 0 || *n.Volume > 100) {
		return fmt.Errorf("volume %d out of range [0, 100]", *n.Volume)
	}
	return nil
}

// Msg is the enqueue request: a notification plus an optional hostname
// target. Without a hostname the notification fans out to every known device.
type Msg struct {
	Cmd      string       `json:"cmd"`
	Data     Notification `json:"data"`
	Hostname *string      `json:"hostname,omitempty"`
}

// DecodeMsg parses an enqueue request, seeding defaults for absent fields
// (id -1 so the queue assigns one, repeat 1). Unknown fields are rejected.
func DecodeMsg(r io.Reader) (*Msg, error) {
	msg := &Msg{Data: Notification{ID: -1, Repeat: 1}}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// wire envelope for delivery and cancellation frames.
type deliveryMsg struct {
	Cmd  string       `json:"cmd"`
	Data Notification `json:"data"`
}

type cancelMsg struct {
	Cmd  string `json:"cmd"`
	Data struct {
		Cancel bool  `json:"cancel"`
		ID     int64 `json:"id"`
	} `json:"data"`
}

// Queue holds per-MAC FIFOs and the dequeue loop.
type Queue struct {
	mgr  *satellite.Manager
	tick time.Duration
	log  zerolog.Logger

	mu      sync.Mutex
	pending map[string][]Notification
}

type Options struct {
	Manager *satellite.Manager
	// Tick overrides DefaultTick, mainly for tests.
	Tick time.Duration
	Log  zerolog.Logger
}

func NewQueue(opts Options) *Queue {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Queue{
		mgr:     opts.Manager,
		tick:    tick,
		log:     opts.Log.With().Str("component", "notify").Logger(),
		pending: make(map[string][]Notification),
	}
}

// Start runs the dequeue loop until ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.tick)
		defer ticker.Stop()
		q.log.Info().Dur("tick", q.tick).Msg("notify queue started")
		for {
			select {
			case <-ctx.Done():
				q.log.Info().Msg("notify queue stopped")
				return
			case <-ticker.C:
				q.dequeueTick()
			}
		}
	}()
}

// Add enqueues a notification. A negative id is replaced with the current
// time in milliseconds. Unresolvable hostnames and devices without a known
// MAC are skipped with a warning rather than failing the request.
func (q *Queue) Add(msg *Msg) error {
	if err := msg.Data.Validate(); err != nil {
		return err
	}
	if msg.Data.ID < 0 {
		msg.Data.ID = time.Now().UnixMilli()
	}

	var targets []string
	if msg.Hostname != nil {
		mac, ok := q.mgr.MACByHostname(*msg.Hostname)
		if !ok || mac == "unknown" {
			q.log.Warn().Str("hostname", *msg.Hostname).Msg("no MAC address found, skipping notification")
			return nil
		}
		targets = append(targets, mac)
	} else {
		seen := make(map[string]bool)
		for _, s := range q.mgr.Sessions() {
			mac := s.MAC()
			if mac == "unknown" {
				q.log.Warn().Str("hostname", s.Hostname()).Msg("no MAC address found, skipping")
				continue
			}
			if seen[mac] {
				continue
			}
			seen[mac] = true
			targets = append(targets, mac)
		}
	}

	q.mu.Lock()
	for _, mac := range targets {
		q.pending[mac] = append(q.pending[mac], msg.Data)
	}
	q.mu.Unlock()

	for range targets {
		metrics.NotificationsEnqueuedTotal.Inc()
	}
	q.log.Debug().Int64("id", msg.Data.ID).Int("targets", len(targets)).Msg("notification enqueued")
	return nil
}

// Done acknowledges the delivered notification: the matching entry is popped
// from the device's FIFO and its active slot cleared. A cancellation record
// is always broadcast so co-located devices stop displaying it too.
func (q *Queue) Done(sess *satellite.Session, id int64) {
	mac := sess.MAC()

	q.mu.Lock()
	items := q.pending[mac]
	for i := range items {
		if items[i].ID == id {
			q.pending[mac] = slices.Delete(items, i, i+1)
			sess.SetNotificationActive(0)
			break
		}
	}
	q.mu.Unlock()

	var cancel cancelMsg
	cancel.Cmd = "notify"
	cancel.Data.Cancel = true
	cancel.Data.ID = id
	payload, err := json.Marshal(cancel)
	if err != nil {
		q.log.Error().Err(err).Msg("cancel broadcast marshal failed")
		return
	}
	metrics.NotificationsCanceledTotal.Inc()
	q.mgr.Broadcast(payload)
}

// dequeueTick advances every per-MAC FIFO by at most one delivery.
func (q *Queue) dequeueTick() {
	now := time.Now().UnixMilli()
	cutoff := now - Expiry.Milliseconds()

	type send struct {
		sess    *satellite.Session
		payload []byte
	}
	var sends []send

	q.mu.Lock()
	for mac, items := range q.pending {
		if len(items) == 0 {
			continue
		}
		sess := q.mgr.ByMAC(mac)
		if sess == nil {
			continue
		}
		if sess.IsNotificationActive() {
			continue
		}

		i := 0
		for i < len(items) {
			n := items[i]
			if n.ID > now {
				// Scheduled for later; leave in place.
				i++
				continue
			}
			if n.ID < cutoff {
				items = slices.Delete(items, i, i+1)
				metrics.NotificationsExpiredTotal.Inc()
				q.log.Warn().Str("mac", mac).Int64("id", n.ID).Msg("expiring notification older than 1h")
				continue
			}

			payload, err := json.Marshal(deliveryMsg{Cmd: "notify", Data: n})
			if err != nil {
				q.log.Error().Err(err).Int64("id", n.ID).Msg("notification marshal failed")
				i++
				continue
			}
			sess.SetNotificationActive(n.ID)
			sends = append(sends, send{sess: sess, payload: payload})
			break
		}
		q.pending[mac] = items
	}
	q.mu.Unlock()

	for _, s := range sends {
		if err := s.sess.SendText(s.payload); err != nil {
			q.log.Error().Err(err).Str("mac", s.sess.MAC()).Msg("notification send failed")
			s.sess.SetNotificationActive(0)
			continue
		}
		metrics.NotificationsDeliveredTotal.Inc()
	}
}

// Snapshot returns a copy of all per-MAC queues for the status API.
func (q *Queue) Snapshot() map[string][]Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string][]Notification, len(q.pending))
	for mac, items := range q.pending {
		out[mac] = slices.Clone(items)
	}
	return out
}

// Depth reports how many notifications are queued across all devices.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, items := range q.pending {
		n += len(items)
	}
	return n
}
