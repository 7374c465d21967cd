package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lifestory/internal/logging"
	"lifestory/internal/services"
)

// Conn is one live connection to the event server.
// Send must be safe to call concurrently with Receive.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens connections to the event server.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("event bus closed")

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	sendTimeout           = 5 * time.Second
)

// StatusHandler receives status updates for one interview.
type StatusHandler func(StatusEvent)

// DraftHandler receives draft lifecycle events.
type DraftHandler func(DraftEvent)

// Subscription identifies one registered handler.
type Subscription struct {
	id  uint64
	key string
}

// Key returns the interview ID the subscription is bound to, or "" for draft subscriptions.
func (s Subscription) Key() string { return s.key }

type statusSub struct {
	id uint64
	fn StatusHandler
}

type draftSub struct {
	id uint64
	fn DraftHandler
}

// Option configures a Bus.
type Option func(*Bus)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(b *Bus) {
		if initial > 0 {
			b.initialBackoff = initial
		}
		if maxDelay > 0 {
			b.maxBackoff = maxDelay
		}
	}
}

// Bus routes server events to subscribers.
type Bus struct {
	transport      Transport
	logger         *slog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// roomMu serializes room membership changes with their join/leave sends.
	roomMu sync.Mutex

	mu        sync.Mutex
	conn      Conn
	running   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	nextID    uint64
	status    map[string][]statusSub
	drafts    []draftSub
	reconnect int
}

// New constructs a Bus over transport. Call Connect to start receiving.
func New(transport Transport, logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		transport:      transport,
		logger:         logging.NewComponentLogger(logger, "eventbus"),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		status:         make(map[string][]statusSub),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxBackoff < b.initialBackoff {
		b.maxBackoff = b.initialBackoff
	}
	return b
}

// Connect dials the server and starts the receive loop. Calling Connect on a
// running bus is a no-op. Rooms registered before Connect are joined once the
// connection is up.
func (b *Bus) Connect(ctx context.Context) error {
	if b.transport == nil {
		return services.Wrap(services.ErrConfiguration, "eventbus", "connect", "no transport configured", nil)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	conn, err := b.transport.Dial(ctx)
	if err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return services.Wrap(services.ErrTransient, "eventbus", "connect", "dial event server", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.running = false
		b.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	b.conn = conn
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	b.logger.Info("event channel connected", logging.String(logging.FieldEventType, "eventbus_connected"))
	b.rejoin(loopCtx)
	go b.loop(loopCtx, done)
	return nil
}

// Connected reports whether a live connection is currently held.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Reconnects returns how many times the bus re-established a dropped connection.
func (b *Bus) Reconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reconnect
}

// Rooms returns the interview IDs that currently have status subscribers.
func (b *Bus) Rooms() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roomsLocked()
}

func (b *Bus) roomsLocked() []string {
	rooms := make([]string, 0, len(b.status))
	for key := range b.status {
		rooms = append(rooms, key)
	}
	sort.Strings(rooms)
	return rooms
}

// Close stops the receive loop and drops the connection. Subscriptions are discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	done := b.done
	conn := b.conn
	b.conn = nil
	b.status = make(map[string][]statusSub)
	b.drafts = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// OnStatusUpdate registers fn for status updates of interviewID.
func (b *Bus) OnStatusUpdate(interviewID string, fn StatusHandler) Subscription {
	b.roomMu.Lock()
	defer b.roomMu.Unlock()

	b.mu.Lock()
	b.nextID++
	sub := Subscription{id: b.nextID, key: interviewID}
	first := len(b.status[interviewID]) == 0
	b.status[interviewID] = append(b.status[interviewID], statusSub{id: sub.id, fn: fn})
	b.mu.Unlock()

	if first {
		b.sendRoom(EventJoinInterview, interviewID)
	}
	return sub
}

// OffStatusUpdate removes the given subscriptions for interviewID. With no
// subscriptions it removes every handler for the key.
func (b *Bus) OffStatusUpdate(interviewID string, subs ...Subscription) {
	b.roomMu.Lock()
	defer b.roomMu.Unlock()

	b.mu.Lock()
	existing, ok := b.status[interviewID]
	if !ok {
		b.mu.Unlock()
		return
	}
	var kept []statusSub
	if len(subs) > 0 {
		drop := make(map[uint64]struct{}, len(subs))
		for _, s := range subs {
			drop[s.id] = struct{}{}
		}
		for _, s := range existing {
			if _, gone := drop[s.id]; !gone {
				kept = append(kept, s)
			}
		}
	}
	if len(kept) > 0 {
		b.status[interviewID] = kept
		b.mu.Unlock()
		return
	}
	delete(b.status, interviewID)
	b.mu.Unlock()

	b.sendRoom(EventLeaveInterview, interviewID)
}

// OnDraftEvent registers fn for every draft lifecycle event.
func (b *Bus) OnDraftEvent(fn DraftHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := Subscription{id: b.nextID}
	b.drafts = append(b.drafts, draftSub{id: sub.id, fn: fn})
	return sub
}

// OffDraftEvent removes draft subscriptions.
func (b *Bus) OffDraftEvent(subs ...Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[uint64]struct{}, len(subs))
	for _, s := range subs {
		drop[s.id] = struct{}{}
	}
	kept := b.drafts[:0]
	for _, s := range b.drafts {
		if _, gone := drop[s.id]; !gone {
			kept = append(kept, s)
		}
	}
	b.drafts = kept
}

func (b *Bus) sendRoom(event, interviewID string) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		// Joined on connect.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := b.send(ctx, conn, event, interviewID); err != nil {
		logging.WarnWithContext(b.logger, "room membership send failed", "eventbus_room_failed",
			logging.String(logging.FieldInterviewID, interviewID),
			logging.String("event", event),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "membership is restored on reconnect"),
			logging.String(logging.FieldImpact, "status updates may be missed until reconnect"),
		)
	}
}

func (b *Bus) send(ctx context.Context, conn Conn, event, interviewID string) error {
	msg, err := NewMessage(event, roomPayload{InterviewID: interviewID})
	if err != nil {
		return err
	}
	return conn.Send(ctx, msg)
}

// rejoin re-sends join-interview for every room with subscribers.
func (b *Bus) rejoin(ctx context.Context) {
	b.roomMu.Lock()
	defer b.roomMu.Unlock()

	b.mu.Lock()
	conn := b.conn
	rooms := b.roomsLocked()
	b.mu.Unlock()
	if conn == nil {
		return
	}
	for _, room := range rooms {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := b.send(sendCtx, conn, EventJoinInterview, room)
		cancel()
		if err != nil {
			logging.WarnWithContext(b.logger, "room rejoin failed", "eventbus_rejoin_failed",
				logging.String(logging.FieldInterviewID, room),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "will retry on next reconnect"),
			)
			return
		}
	}
	if len(rooms) > 0 {
		b.logger.Debug("rooms joined", logging.Int("rooms", len(rooms)))
	}
}

func (b *Bus) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
	}()
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			if !b.redial(ctx) {
				return
			}
			continue
		}
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.WarnWithContext(b.logger, "event channel dropped", "eventbus_disconnected",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "reconnecting with backoff"),
				logging.String(logging.FieldImpact, "events are paused until the channel is restored"),
			)
			_ = conn.Close()
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			continue
		}
		b.dispatch(msg)
	}
}

// redial retries Dial with exponential backoff until it succeeds or ctx ends.
func (b *Bus) redial(ctx context.Context) bool {
	delay := b.initialBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		conn, err := b.transport.Dial(ctx)
		if err == nil {
			b.mu.Lock()
			if b.closed || ctx.Err() != nil {
				b.mu.Unlock()
				_ = conn.Close()
				return false
			}
			b.conn = conn
			b.reconnect++
			b.mu.Unlock()
			b.logger.Info("event channel reconnected",
				logging.Int("attempt", attempt),
				logging.String(logging.FieldEventType, "eventbus_reconnected"),
			)
			b.rejoin(ctx)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		b.logger.Debug("reconnect attempt failed", logging.Int("attempt", attempt), logging.Error(err))
		delay *= 2
		if delay > b.maxBackoff {
			delay = b.maxBackoff
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	switch msg.Event {
	case EventStatusUpdate:
		evt, err := decodeStatus(msg.Data)
		if err != nil {
			b.logger.Debug("dropping malformed status update", logging.Error(err))
			return
		}
		b.mu.Lock()
		handlers := append([]statusSub(nil), b.status[evt.InterviewID]...)
		b.mu.Unlock()
		for _, h := range handlers {
			b.safeCall(msg.Event, func() { h.fn(evt) })
		}
	case EventRegenerationStarted, EventGenerationComplete, EventGenerationFailed:
		evt, err := decodeDraft(msg.Event, msg.Data)
		if err != nil {
			b.logger.Debug("dropping malformed draft event", logging.Error(err))
			return
		}
		b.mu.Lock()
		handlers := append([]draftSub(nil), b.drafts...)
		b.mu.Unlock()
		for _, h := range handlers {
			b.safeCall(msg.Event, func() { h.fn(evt) })
		}
	default:
		b.logger.Debug("ignoring event", logging.String("event", msg.Event))
	}
}

func (b *Bus) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "subscriber panicked", "eventbus_subscriber_panic",
				logging.String("event", event),
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldErrorHint, "fix the subscriber; other subscribers were still notified"),
			)
		}
	}()
	fn()
}
