package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lifestory/internal/eventbus"
)

// ErrDialRefused is returned by FakeTransport while dial failures are queued.
var ErrDialRefused = errors.New("fake transport: dial refused")

// FakeTransport is an in-memory eventbus.Transport. Each Dial yields a new
// FakeConn; tests push server events and inspect client sends.
type FakeTransport struct {
	mu       sync.Mutex
	conns    []*FakeConn
	failures int
	dialed   chan *FakeConn
	gate     chan struct{}
	holding  chan struct{}
}

// NewFakeTransport returns a transport with no queued failures.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{dialed: make(chan *FakeConn, 16), holding: make(chan struct{}, 16)}
}

// HoldDials makes every Dial block until the returned release func runs.
func (t *FakeTransport) HoldDials() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// WaitHeld blocks until a Dial is parked by HoldDials or the timeout expires.
func (t *FakeTransport) WaitHeld(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	select {
	case <-t.holding:
	case <-time.After(timeout):
		tb.Fatalf("no held dial within %s", timeout)
	}
}

// FailNextDials makes the next n Dial calls fail.
func (t *FakeTransport) FailNextDials(n int) {
	t.mu.Lock()
	t.failures = n
	t.mu.Unlock()
}

// Dial implements eventbus.Transport.
func (t *FakeTransport) Dial(ctx context.Context) (eventbus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case t.holding <- struct{}{}:
		default:
		}
		<-gate
	}
	t.mu.Lock()
	if t.failures > 0 {
		t.failures--
		t.mu.Unlock()
		return nil, ErrDialRefused
	}
	conn := &FakeConn{inbox: make(chan eventbus.Message, 64), closed: make(chan struct{})}
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	select {
	case t.dialed <- conn:
	default:
	}
	return conn, nil
}

// Current returns the most recently dialed connection, or nil.
func (t *FakeTransport) Current() *FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Dials returns the number of successful dials.
func (t *FakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// WaitDial blocks until a connection is dialed or the timeout expires.
func (t *FakeTransport) WaitDial(tb testing.TB, timeout time.Duration) *FakeConn {
	tb.Helper()
	select {
	case conn := <-t.dialed:
		return conn
	case <-time.After(timeout):
		tb.Fatalf("no dial within %s", timeout)
		return nil
	}
}

// FakeConn is one in-memory connection.
type FakeConn struct {
	mu        sync.Mutex
	sent      []eventbus.Message
	inbox     chan eventbus.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// Send implements eventbus.Conn.
func (c *FakeConn) Send(ctx context.Context, msg eventbus.Message) error {
	select {
	case <-c.closed:
		return errors.New("fake conn closed")
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

// Receive implements eventbus.Conn.
func (c *FakeConn) Receive(ctx context.Context) (eventbus.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return eventbus.Message{}, errors.New("fake conn closed")
	case <-ctx.Done():
		return eventbus.Message{}, ctx.Err()
	}
}

// Close implements eventbus.Conn and simulates a dropped connection.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push delivers a server event encoded from payload.
func (c *FakeConn) Push(tb testing.TB, event string, payload any) {
	tb.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("encode %s: %v", event, err)
	}
	c.inbox <- eventbus.Message{Event: event, Data: data}
}

// Sent returns a copy of every message the client sent.
func (c *FakeConn) Sent() []eventbus.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]eventbus.Message(nil), c.sent...)
}

// Rooms returns the interviewIds carried by sent messages of the given event type.
func (c *FakeConn) Rooms(event string) []string {
	var out []string
	for _, msg := range c.Sent() {
		if msg.Event != event {
			continue
		}
		var payload struct {
			InterviewID string `json:"interviewId"`
		}
		if json.Unmarshal(msg.Data, &payload) == nil {
			out = append(out, payload.InterviewID)
		}
	}
	return out
}

// Eventually polls cond until it holds or the timeout expires.
func Eventually(tb testing.TB, timeout time.Duration, cond func() bool, msg string) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		tb.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}
