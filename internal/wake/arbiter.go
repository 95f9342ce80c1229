// Package wake arbitrates simultaneous wake-word detections. Devices that
// hear the same utterance report within one short window and compete on wake
// volume; exactly one device wins and continues the voice session.
package wake

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/metrics"
)

// DefaultWindow is how long a window stays open for competing detections
// after the first one arrives.
const DefaultWindow = 200 * time.Millisecond

var (
	wonTrue  = []byte(`{"wake_result":{"won":true}}`)
	wonFalse = []byte(`{"wake_result":{"won":false}}`)
)

// Sender is where wake results are written. Device sessions satisfy it.
type Sender interface {
	SendText(msg []byte) error
}

type event struct {
	sender Sender
	volume float64
}

type session struct {
	id     uuid.UUID
	events []event
	done   bool
	timer  *time.Timer
}

// Arbiter holds at most one open wake window at a time. A detection arriving
// while a window is open joins it; one arriving after resolution opens the
// next window.
type Arbiter struct {
	mu      sync.Mutex
	current *session
	window  time.Duration
	log     zerolog.Logger
}

type Options struct {
	// Window overrides DefaultWindow, mainly for tests.
	Window time.Duration
	Log    zerolog.Logger
}

func NewArbiter(opts Options) *Arbiter {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Arbiter{
		window: window,
		log:    opts.Log.With().Str("component", "wake").Logger(),
	}
}

// Open ensures a wake window is running, starting one if none is open.
func (a *Arbiter) Open() {
	a.mu.Lock()
	a.ensureSessionLocked()
	a.mu.Unlock()
}

// Feed registers a device's detection in the current window, opening one if
// needed.
func (a *Arbiter) Feed(s Sender, volume float64) {
	a.mu.Lock()
	sess := a.ensureSessionLocked()
	sess.events = append(sess.events, event{sender: s, volume: volume})
	a.mu.Unlock()

	metrics.WakeEventsTotal.Inc()
}

func (a *Arbiter) ensureSessionLocked() *session {
	if a.current != nil && !a.current.done {
		return a.current
	}

	sess := &session{id: uuid.New()}
	sess.timer = time.AfterFunc(a.window, func() { a.resolve(sess) })
	a.current = sess

	metrics.WakeSessionsTotal.Inc()
	a.log.Debug().Str("wake_session", sess.id.String()).Msg("wake window opened")
	return sess
}

// resolve picks the loudest detection as winner and notifies every
// participant, winner first. Ties go to the earliest event.
func (a *Arbiter) resolve(sess *session) {
	a.mu.Lock()
	sess.done = true
	events := sess.events
	a.mu.Unlock()

	var winner Sender
	max := 0.0
	for _, e := range events {
		if winner == nil || e.volume > max {
			winner = e.sender
			max = e.volume
		}
	}
	if winner == nil {
		a.log.Debug().Str("wake_session", sess.id.String()).Msg("wake window closed with no events")
		return
	}

	if err := winner.SendText(wonTrue); err != nil {
		a.log.Error().Err(err).Str("wake_session", sess.id.String()).Msg("failed to notify wake winner")
	}
	for _, e := range events {
		if e.sender == winner {
			continue
		}
		if err := e.sender.SendText(wonFalse); err != nil {
			a.log.Error().Err(err).Str("wake_session", sess.id.String()).Msg("failed to notify wake loser")
		}
	}

	a.log.Debug().
		Str("wake_session", sess.id.String()).
		Int("events", len(events)).
		Float64("winning_volume", max).
		Msg("wake window resolved")
}

// Stop cancels any pending window resolution.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.timer != nil {
		a.current.timer.Stop()
		a.current.done = true
	}
}
