package eventbus_test

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/testsupport"
)

const waitFor = 2 * time.Second

func newBus(t *testing.T) (*eventbus.Bus, *testsupport.FakeTransport) {
	t.Helper()
	transport := testsupport.NewFakeTransport()
	bus := eventbus.New(transport, logging.NewNop(), eventbus.WithBackoff(time.Millisecond, 5*time.Millisecond))
	t.Cleanup(func() { _ = bus.Close() })
	return bus, transport
}

type statusRecorder struct {
	mu     sync.Mutex
	events []eventbus.StatusEvent
}

func (r *statusRecorder) handle(evt eventbus.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *statusRecorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func TestStatusUpdatesRouteByInterview(t *testing.T) {
	bus, transport := newBus(t)
	var a, b statusRecorder
	bus.OnStatusUpdate("A", a.handle)
	bus.OnStatusUpdate("B", b.handle)

	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.Current()
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "A", "status": "transcribing"})
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interview_id": "B", "status": "Error", "error_message": "bad audio"})
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "C", "status": "completed"})

	testsupport.Eventually(t, waitFor, func() bool {
		return len(a.statuses()) == 1 && len(b.statuses()) == 1
	}, "both interviews receive one update")

	if got := a.statuses(); got[0] != "transcribing" {
		t.Fatalf("A statuses = %v", got)
	}
	b.mu.Lock()
	evt := b.events[0]
	b.mu.Unlock()
	if evt.Status != "error" || evt.ErrorMessage != "bad audio" {
		t.Fatalf("B event = %+v", evt)
	}
}

func TestRoomJoinedOnceAndLeftWithLastSubscriber(t *testing.T) {
	bus, transport := newBus(t)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.Current()

	first := bus.OnStatusUpdate("A", func(eventbus.StatusEvent) {})
	second := bus.OnStatusUpdate("A", func(eventbus.StatusEvent) {})
	if joins := conn.Rooms(eventbus.EventJoinInterview); !slices.Equal(joins, []string{"A"}) {
		t.Fatalf("joins = %v, want [A]", joins)
	}

	bus.OffStatusUpdate("A", first)
	if leaves := conn.Rooms(eventbus.EventLeaveInterview); len(leaves) != 0 {
		t.Fatalf("left room with a subscriber remaining: %v", leaves)
	}
	bus.OffStatusUpdate("A", second)
	if leaves := conn.Rooms(eventbus.EventLeaveInterview); !slices.Equal(leaves, []string{"A"}) {
		t.Fatalf("leaves = %v, want [A]", leaves)
	}
	if rooms := bus.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms = %v, want none", rooms)
	}
}

func TestOffStatusUpdateWithoutHandlesRemovesAll(t *testing.T) {
	bus, transport := newBus(t)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var calls atomic.Int32
	bus.OnStatusUpdate("A", func(eventbus.StatusEvent) { calls.Add(1) })
	bus.OnStatusUpdate("A", func(eventbus.StatusEvent) { calls.Add(1) })
	bus.OffStatusUpdate("A")

	conn := transport.Current()
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "A", "status": "completed"})
	// A marker subscriber proves the event above has been processed.
	var marker statusRecorder
	bus.OnStatusUpdate("Z", marker.handle)
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "Z", "status": "uploading"})
	testsupport.Eventually(t, waitFor, func() bool { return len(marker.statuses()) == 1 }, "marker delivered")

	if calls.Load() != 0 {
		t.Fatalf("removed handlers called %d times", calls.Load())
	}
}

func TestRoomsRegisteredBeforeConnectAreJoined(t *testing.T) {
	bus, transport := newBus(t)
	bus.OnStatusUpdate("B", func(eventbus.StatusEvent) {})
	bus.OnStatusUpdate("A", func(eventbus.StatusEvent) {})
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if joins := transport.Current().Rooms(eventbus.EventJoinInterview); !slices.Equal(joins, []string{"A", "B"}) {
		t.Fatalf("joins = %v, want [A B]", joins)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	bus, transport := newBus(t)
	for i := 0; i < 3; i++ {
		if err := bus.Connect(context.Background()); err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
	}
	if transport.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", transport.Dials())
	}
}

func TestConnectFailureIsReported(t *testing.T) {
	bus, transport := newBus(t)
	transport.FailNextDials(1)
	if err := bus.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	bus, transport := newBus(t)
	var rec statusRecorder
	bus.OnStatusUpdate("A", rec.handle)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := transport.WaitDial(t, waitFor)

	transport.FailNextDials(2)
	first.Close()

	second := transport.WaitDial(t, waitFor)
	testsupport.Eventually(t, waitFor, func() bool {
		return slices.Equal(second.Rooms(eventbus.EventJoinInterview), []string{"A"})
	}, "room A rejoined on the new connection")
	if bus.Reconnects() != 1 {
		t.Fatalf("reconnects = %d, want 1", bus.Reconnects())
	}

	second.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "A", "status": "generating_draft"})
	testsupport.Eventually(t, waitFor, func() bool { return len(rec.statuses()) == 1 }, "update after reconnect")
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus, transport := newBus(t)
	var rec statusRecorder
	bus.OnStatusUpdate("A", func(eventbus.StatusEvent) { panic("boom") })
	bus.OnStatusUpdate("A", rec.handle)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.Current()
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "A", "status": "uploading"})
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "A", "status": "transcribing"})

	testsupport.Eventually(t, waitFor, func() bool { return len(rec.statuses()) == 2 }, "healthy subscriber sees both updates")
}

func TestDraftEventsDecoded(t *testing.T) {
	bus, transport := newBus(t)
	var (
		mu     sync.Mutex
		events []eventbus.DraftEvent
	)
	sub := bus.OnDraftEvent(func(evt eventbus.DraftEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := transport.Current()
	conn.Push(t, eventbus.EventRegenerationStarted, map[string]any{"draftId": "d1", "sessionId": "s1"})
	conn.Push(t, eventbus.EventGenerationComplete, map[string]any{"draftId": "d2", "sessionId": "s1", "isRegeneration": true, "draft": map[string]any{"id": "d2"}})
	conn.Push(t, eventbus.EventGenerationFailed, map[string]any{"session_id": "s1", "error": "model unavailable"})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(events)
	}
	testsupport.Eventually(t, waitFor, func() bool { return count() == 3 }, "three draft events")

	mu.Lock()
	started, complete, failed := events[0], events[1], events[2]
	mu.Unlock()
	if !started.IsRegeneration || started.DraftID != "d1" || started.Terminal() {
		t.Fatalf("started = %+v", started)
	}
	if !complete.Terminal() || complete.DraftID != "d2" || len(complete.Draft) == 0 {
		t.Fatalf("complete = %+v", complete)
	}
	if failed.SessionID != "s1" || failed.ErrorMessage != "model unavailable" {
		t.Fatalf("failed = %+v", failed)
	}

	bus.OffDraftEvent(sub)
	conn.Push(t, eventbus.EventGenerationComplete, map[string]any{"draftId": "d3"})
	var marker statusRecorder
	bus.OnStatusUpdate("M", marker.handle)
	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "M", "status": "uploading"})
	testsupport.Eventually(t, waitFor, func() bool { return len(marker.statuses()) == 1 }, "marker delivered")
	if count() != 3 {
		t.Fatalf("unsubscribed handler received %d events", count())
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	bus, _ := newBus(t)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.Connected() {
		t.Fatal("bus still connected after Close")
	}
	if err := bus.Connect(context.Background()); err != eventbus.ErrClosed {
		t.Fatalf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestCloseDuringConnectDropsDialedConn(t *testing.T) {
	bus, transport := newBus(t)
	release := transport.HoldDials()
	errc := make(chan error, 1)
	go func() { errc <- bus.Connect(context.Background()) }()
	transport.WaitHeld(t, waitFor)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	release()
	select {
	case err := <-errc:
		if err != eventbus.ErrClosed {
			t.Fatalf("Connect = %v, want ErrClosed", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}
	conn := transport.Current()
	if conn == nil || !conn.Closed() {
		t.Fatal("connection dialed after Close was left open")
	}
	if bus.Connected() {
		t.Fatal("bus reports a connection after Close")
	}
}

func TestCloseDuringRedialDropsDialedConn(t *testing.T) {
	bus, transport := newBus(t)
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := transport.WaitDial(t, waitFor)
	release := transport.HoldDials()
	_ = first.Close()
	transport.WaitHeld(t, waitFor)

	closed := make(chan error, 1)
	go func() { closed <- bus.Close() }()
	time.Sleep(20 * time.Millisecond)
	release()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	if got := transport.Dials(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
	if conn := transport.Current(); !conn.Closed() {
		t.Fatal("redialed connection was left open after Close")
	}
}
