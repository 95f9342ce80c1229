// Package satellite tracks connected Willow devices. Each device holds one
// WebSocket session; the manager answers lookups by hostname and MAC and
// fans out broadcasts.
package satellite

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/metrics"
)

// SessionInfo is the wire form of a session used by the status API.
type SessionInfo struct {
	Hostname           string `json:"hostname"`
	Platform           string `json:"platform"`
	MACAddr            string `json:"mac_addr"`
	UA                 string `json:"ua"`
	NotificationActive int64  `json:"notification_active"`
}

// Manager owns the set of live sessions. Sessions keep insertion order so
// lookups that can match several devices stay deterministic.
type Manager struct {
	mu       sync.RWMutex
	sessions []*Session
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("component", "satellite").Logger(),
	}
}

// Accept registers a new device session and starts its write pump. ua is the
// User-Agent presented during the upgrade.
func (m *Manager) Accept(conn Conn, ua string) *Session {
	s := newSession(conn, ua, m.log)

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	n := len(m.sessions)
	m.mu.Unlock()

	go s.writePump()

	metrics.DeviceConnectsTotal.Inc()
	m.log.Info().Str("remote", s.RemoteAddr()).Str("ua", ua).Int("sessions", n).Msg("device connected")
	return s
}

// Disconnect unregisters and closes a session. Safe to call more than once.
func (m *Manager) Disconnect(s *Session) {
	m.mu.Lock()
	idx := slices.Index(m.sessions, s)
	if idx >= 0 {
		m.sessions = slices.Delete(m.sessions, idx, idx+1)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	s.close()

	if idx >= 0 {
		metrics.DeviceDisconnectsTotal.Inc()
		m.log.Info().Str("remote", s.RemoteAddr()).Str("hostname", s.Hostname()).Int("sessions", n).Msg("device disconnected")
	}
}

// ByHostname returns the first session that identified with hostname, or nil.
func (m *Manager) ByHostname(hostname string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Hostname() == hostname {
			return s
		}
	}
	return nil
}

// ByMAC returns the first session with the given MAC, or nil.
func (m *Manager) ByMAC(mac string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.MAC() == mac {
			return s
		}
	}
	return nil
}

// MACByHostname resolves a hostname to its device MAC.
func (m *Manager) MACByHostname(hostname string) (string, bool) {
	s := m.ByHostname(hostname)
	if s == nil {
		return "", false
	}
	return s.MAC(), true
}

// Sessions returns a point-in-time copy of all sessions in accept order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sessions)
}

// Broadcast enqueues msg to every session. Failures are counted and logged
// per recipient; the broadcast itself never fails.
func (m *Manager) Broadcast(msg []byte) {
	for _, s := range m.Sessions() {
		if err := s.SendText(msg); err != nil {
			metrics.BroadcastErrorsTotal.Inc()
			m.log.Error().Err(err).Str("remote", s.RemoteAddr()).Str("hostname", s.Hostname()).Msg("broadcast send failed")
		}
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveNotificationCount reports how many devices are showing a notification.
func (m *Manager) ActiveNotificationCount() int {
	n := 0
	for _, s := range m.Sessions() {
		if s.IsNotificationActive() {
			n++
		}
	}
	return n
}

// Snapshot returns the status view of all sessions keyed by remote "ip:port".
func (m *Manager) Snapshot() map[string]SessionInfo {
	sessions := m.Sessions()
	out := make(map[string]SessionInfo, len(sessions))
	for _, s := range sessions {
		out[s.RemoteAddr()] = SessionInfo{
			Hostname:           s.Hostname(),
			Platform:           s.Platform(),
			MACAddr:            s.MAC(),
			UA:                 s.UA(),
			NotificationActive: s.NotificationActive(),
		}
	}
	return out
}
