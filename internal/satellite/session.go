package satellite

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write one message to a device.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the session is considered dead.
	pongWait = 60 * time.Second

	// Ping interval; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound buffer per session. A device that stops draining gets its
	// sends dropped rather than blocking the rest of the server.
	sendBuffer = 32
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Conn is the subset of *websocket.Conn a session needs. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Session is one connected device. All writes to the underlying connection
// go through a single pump goroutine; SendText only enqueues.
type Session struct {
	conn   Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	remote string
	log    zerolog.Logger

	mu                 sync.RWMutex
	hostname           string
	platform           string
	mac                string
	ua                 string
	notificationActive int64
}

func newSession(conn Conn, ua string, log zerolog.Logger) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s := &Session{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		remote:   remote,
		log:      log.With().Str("remote", remote).Logger(),
		hostname: "unknown",
		platform: "unknown",
		mac:      "unknown",
		ua:       ua,
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return s
}

// SendText enqueues a text message for delivery. It never blocks: a closed
// session or a full buffer returns an error instead.
func (s *Session) SendText(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// NextMessage blocks until the device sends a text frame or the connection
// fails. The read deadline is maintained by the pong handler.
func (s *Session) NextMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

// writePump is the session's single connection writer. It exits when the
// session closes or a write fails; the paired read loop notices via the
// broken connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug().Err(err).Msg("session write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Debug().Err(err).Msg("session ping failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// RemoteAddr returns the device's "ip:port" as seen at accept time.
func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) Hostname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostname
}

func (s *Session) SetHostname(hostname string) {
	s.mu.Lock()
	s.hostname = hostname
	s.mu.Unlock()
}

func (s *Session) Platform() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform
}

func (s *Session) SetPlatform(platform string) {
	s.mu.Lock()
	s.platform = platform
	s.mu.Unlock()
}

func (s *Session) MAC() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mac
}

func (s *Session) SetMAC(mac string) {
	s.mu.Lock()
	s.mac = mac
	s.mu.Unlock()
}

func (s *Session) UA() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ua
}

// Version is the firmware version embedded in the device's user agent.
func (s *Session) Version() string {
	return strings.TrimPrefix(s.UA(), "Willow/")
}

// NotificationActive returns the id of the notification the device is
// currently showing, or 0.
func (s *Session) NotificationActive() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notificationActive
}

func (s *Session) SetNotificationActive(id int64) {
	s.mu.Lock()
	s.notificationActive = id
	s.mu.Unlock()
}

func (s *Session) IsNotificationActive() bool {
	return s.NotificationActive() != 0
}
