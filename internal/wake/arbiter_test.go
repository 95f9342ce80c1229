package wake

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// orderLog records sends across all fake senders in arrival order.
type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *orderLog) waitLen(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := l.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %v", n, l.snapshot())
	return nil
}

type fakeSender struct {
	name string
	log  *orderLog
}

func (s *fakeSender) SendText(msg []byte) error {
	s.log.add(fmt.Sprintf("%s %s", s.name, msg))
	return nil
}

func newTestArbiter() *Arbiter {
	return NewArbiter(Options{Window: 20 * time.Millisecond, Log: zerolog.Nop()})
}

func TestArbiter_SingleDeviceWins(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"kitchen", log}, 10.5)

	got := log.waitLen(t, 1)
	if got[0] != `kitchen {"wake_result":{"won":true}}` {
		t.Errorf("sole participant got %q, want winner result", got[0])
	}
}

func TestArbiter_HighestVolumeWins(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"quiet", log}, 10)
	a.Feed(&fakeSender{"loud", log}, 50)
	a.Feed(&fakeSender{"middling", log}, 30)

	got := log.waitLen(t, 3)
	if got[0] != `loud {"wake_result":{"won":true}}` {
		t.Errorf("first send = %q, want winner notified first", got[0])
	}
	for _, entry := range got[1:] {
		if !strings.Contains(entry, `"won":false`) {
			t.Errorf("loser send = %q, want won:false", entry)
		}
	}
}

func TestArbiter_TieGoesToFirstEvent(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"first", log}, 42)
	a.Feed(&fakeSender{"second", log}, 42)

	got := log.waitLen(t, 2)
	if got[0] != `first {"wake_result":{"won":true}}` {
		t.Errorf("tie resolved to %q, want first event", got[0])
	}
}

func TestArbiter_NegativeInfinityLoses(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"silent", log}, math.Inf(-1))
	a.Feed(&fakeSender{"audible", log}, 5)

	got := log.waitLen(t, 2)
	if got[0] != `audible {"wake_result":{"won":true}}` {
		t.Errorf("winner = %q, want audible", got[0])
	}
}

func TestArbiter_SoleNegativeInfinityStillWins(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"silent", log}, math.Inf(-1))

	got := log.waitLen(t, 1)
	if got[0] != `silent {"wake_result":{"won":true}}` {
		t.Errorf("sole participant = %q, want winner", got[0])
	}
}

func TestArbiter_NewWindowAfterResolve(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"one", log}, 10)
	log.waitLen(t, 1)

	a.Feed(&fakeSender{"two", log}, 10)
	got := log.waitLen(t, 2)
	if got[1] != `two {"wake_result":{"won":true}}` {
		t.Errorf("second window winner = %q, want two", got[1])
	}
}

func TestArbiter_EmptyWindowResolvesQuietly(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Open()
	time.Sleep(60 * time.Millisecond)

	if got := log.snapshot(); len(got) != 0 {
		t.Errorf("empty window produced sends: %v", got)
	}

	// The arbiter must accept a fresh window afterwards.
	a.Feed(&fakeSender{"later", log}, 1)
	got := log.waitLen(t, 1)
	if got[0] != `later {"wake_result":{"won":true}}` {
		t.Errorf("post-empty-window winner = %q", got[0])
	}
}

func TestArbiter_StopCancelsPendingWindow(t *testing.T) {
	log := &orderLog{}
	a := newTestArbiter()

	a.Feed(&fakeSender{"one", log}, 10)
	a.Stop()
	time.Sleep(60 * time.Millisecond)

	if got := log.snapshot(); len(got) != 0 {
		t.Errorf("stopped window still resolved: %v", got)
	}
}
