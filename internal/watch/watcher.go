package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"lifestory/internal/audit"
	"lifestory/internal/config"
	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/notifications"
	"lifestory/internal/services"
	"lifestory/internal/tracker"
)

// ErrNotRunning is returned by operations that need a started watcher.
var ErrNotRunning = errors.New("watcher is not running")

// Client is the REST surface the followers use.
type Client interface {
	tracker.Uploader
	tracker.Refresher
}

// Options holds the watcher's collaborators.
type Options struct {
	Bus      *eventbus.Bus
	API      Client
	Journal  *audit.Journal
	Notifier notifications.Service
	LogHub   *logging.StreamHub
	Logger   *slog.Logger
}

// Watcher follows interviews and draft events until stopped.
type Watcher struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *eventbus.Bus
	api      Client
	journal  *audit.Journal
	notifier notifications.Service
	hub      *logging.StreamHub

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running     atomic.Bool
	draftEvents atomic.Int64
	ctx         context.Context
	cancel      context.CancelFunc
	startedAt   time.Time
	wg          sync.WaitGroup

	mu       sync.Mutex
	follows  map[string]*follower
	draftSub eventbus.Subscription
}

type follower struct {
	tracker *tracker.Tracker
	status  eventbus.Subscription
	cancel  context.CancelFunc
	runs    int
	last    *tracker.Result
	lastAt  time.Time
}

// InterviewState is the watcher's view of one followed interview.
type InterviewState struct {
	Snapshot tracker.Snapshot
	Runs     int
	Last     *tracker.Result
	LastAt   time.Time
}

// Status represents watcher runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	LockFilePath string
	JournalPath  string
	Connected    bool
	Reconnects   int
	Rooms        []string
	Following    []string
	DraftEvents  int64
}

// New constructs a watcher. It does not touch the lock or the network.
func New(cfg *config.Config, opts Options) (*Watcher, error) {
	if cfg == nil || opts.Bus == nil || opts.API == nil || opts.Journal == nil {
		return nil, errors.New("watcher requires config, event bus, api client, and journal")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	lockPath := cfg.WatchLockPath()
	w := &Watcher{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(opts.Logger, "watch"),
		bus:      opts.Bus,
		api:      opts.API,
		journal:  opts.Journal,
		notifier: notifier,
		hub:      opts.LogHub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		follows:  make(map[string]*follower),
	}
	w.server = newAPIServer(cfg, w, w.logger)
	return w, nil
}

// Start acquires the lock, connects the bus, follows the configured
// interviews plus extra, and starts the local API when one is configured.
func (w *Watcher) Start(ctx context.Context, extra ...string) error {
	if w.running.Load() {
		return errors.New("watcher already running")
	}
	if err := os.MkdirAll(filepath.Dir(w.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrConflict, "watch", "start", "another lifestory watcher is already running", nil)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Lock()
	w.draftSub = w.bus.OnDraftEvent(w.onDraftEvent)
	w.mu.Unlock()

	if err := w.bus.Connect(w.ctx); err != nil {
		w.bus.OffDraftEvent(w.draftSub)
		w.cancel()
		_ = w.lock.Unlock()
		return fmt.Errorf("connect event bus: %w", err)
	}
	w.startedAt = time.Now().UTC()
	w.running.Store(true)

	for _, id := range dedupe(append(append([]string(nil), w.cfg.Watch.Interviews...), extra...)) {
		if _, err := w.Follow(id); err != nil {
			w.logger.Warn("follow failed",
				logging.String(logging.FieldInterviewID, id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "follow_failed"),
				logging.String(logging.FieldErrorHint, "check the interview ID"),
			)
		}
	}

	if err := w.server.start(w.ctx); err != nil {
		w.Stop()
		return err
	}
	w.logger.Info("watcher started",
		logging.String("lock", w.lockPath),
		logging.Int("following", len(w.Following())),
	)
	return nil
}

// Stop unfollows everything, closes the bus, and releases the lock.
func (w *Watcher) Stop() {
	if !w.running.Swap(false) {
		return
	}
	w.server.stop()
	for _, id := range w.Following() {
		w.unfollow(id)
	}
	w.mu.Lock()
	sub := w.draftSub
	w.mu.Unlock()
	w.bus.OffDraftEvent(sub)
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.bus.Close(); err != nil {
		w.logger.Debug("event bus close", logging.Error(err))
	}
	w.wg.Wait()
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("failed to release watcher lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no watcher is running"),
		)
	}
	w.logger.Info("watcher stopped")
}

// Running reports whether the watcher is started.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Follow starts following id. It reports false when id was already followed.
func (w *Watcher) Follow(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, services.Wrap(services.ErrValidation, "watch", "follow", "interview ID is required", nil)
	}
	if !w.running.Load() {
		return false, ErrNotRunning
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.follows[id]; ok {
		return false, nil
	}
	t := tracker.New(w.bus, w.api, w.api, tracker.OptionsFromConfig(w.cfg, tracker.ModeAsync, w.logger))
	ctx, cancel := context.WithCancel(w.ctx)
	results, err := t.Follow(ctx, id, tracker.SessionContext{})
	if err != nil {
		cancel()
		return false, err
	}
	f := &follower{tracker: t, cancel: cancel}
	f.status = w.bus.OnStatusUpdate(id, func(evt eventbus.StatusEvent) {
		w.recordStatus(id, evt)
	})
	w.follows[id] = f
	w.wg.Add(1)
	go w.consume(id, f, results)
	w.logger.Info("following interview", logging.String(logging.FieldInterviewID, id))
	return true, nil
}

// Unfollow stops following id. It reports false when id was not followed.
func (w *Watcher) Unfollow(id string) (bool, error) {
	if !w.running.Load() {
		return false, ErrNotRunning
	}
	return w.unfollow(strings.TrimSpace(id)), nil
}

func (w *Watcher) unfollow(id string) bool {
	w.mu.Lock()
	f, ok := w.follows[id]
	delete(w.follows, id)
	w.mu.Unlock()
	if !ok {
		return false
	}
	w.bus.OffStatusUpdate(id, f.status)
	f.tracker.Close()
	f.cancel()
	w.logger.Info("stopped following interview", logging.String(logging.FieldInterviewID, id))
	return true
}

// Following lists followed interview IDs in order.
func (w *Watcher) Following() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.follows))
	for id := range w.follows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Interviews returns the state of every followed interview.
func (w *Watcher) Interviews() []InterviewState {
	ids := w.Following()
	out := make([]InterviewState, 0, len(ids))
	for _, id := range ids {
		if state, ok := w.Interview(id); ok {
			out = append(out, state)
		}
	}
	return out
}

// Interview returns the state of one followed interview.
func (w *Watcher) Interview(id string) (InterviewState, bool) {
	w.mu.Lock()
	f, ok := w.follows[id]
	if !ok {
		w.mu.Unlock()
		return InterviewState{}, false
	}
	state := InterviewState{Runs: f.runs, LastAt: f.lastAt}
	if f.last != nil {
		last := *f.last
		state.Last = &last
	}
	t := f.tracker
	w.mu.Unlock()
	state.Snapshot = t.Snapshot()
	if state.Snapshot.InterviewID == "" {
		state.Snapshot.InterviewID = id
	}
	return state, true
}

// InterviewEvents returns recorded status events for id.
func (w *Watcher) InterviewEvents(ctx context.Context, id string, limit int) ([]audit.InterviewEvent, error) {
	return w.journal.InterviewEvents(ctx, id, limit)
}

// History queries the draft audit journal.
func (w *Watcher) History(ctx context.Context, filter draft.HistoryFilter) ([]draft.HistoryEntry, error) {
	return w.journal.Query(ctx, filter)
}

// APIAddr returns the local API listener address, or "" when disabled.
func (w *Watcher) APIAddr() string {
	return w.server.Addr()
}

// LogStream returns the in-memory log hub, if any.
func (w *Watcher) LogStream() *logging.StreamHub {
	return w.hub
}

// Status reports runtime information.
func (w *Watcher) Status() Status {
	return Status{
		Running:      w.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    w.startedAt,
		LockFilePath: w.lockPath,
		JournalPath:  w.journal.Path(),
		Connected:    w.bus.Connected(),
		Reconnects:   w.bus.Reconnects(),
		Rooms:        w.bus.Rooms(),
		Following:    w.Following(),
		DraftEvents:  w.draftEvents.Load(),
	}
}

func (w *Watcher) consume(id string, f *follower, results <-chan tracker.Result) {
	defer w.wg.Done()
	for result := range results {
		w.mu.Lock()
		f.runs++
		r := result
		f.last = &r
		f.lastAt = time.Now().UTC()
		w.mu.Unlock()
		w.notifyResult(id, result)
	}
}

func (w *Watcher) notifyResult(id string, result tracker.Result) {
	if result.Succeeded() {
		payload := notifications.Payload{"id": id}
		if result.Interview != nil {
			payload["name"] = result.Interview.DisplayName()
		}
		w.publish(notifications.EventPipelineCompleted, payload)
		return
	}
	message := result.Message
	if message == "" && result.Err != nil {
		message = result.Err.Error()
	}
	w.publish(notifications.EventPipelineFailed, notifications.Payload{"id": id, "error": message})
}

func (w *Watcher) recordStatus(id string, evt eventbus.StatusEvent) {
	err := w.journal.RecordInterviewEvent(w.ctx, audit.InterviewEvent{
		InterviewID:  id,
		Status:       evt.Status,
		ErrorMessage: evt.ErrorMessage,
		ReceivedAt:   time.Now().UTC(),
	})
	if err != nil {
		logging.WarnWithContext(w.logger, "record status event failed", "journal_write_failed",
			logging.String(logging.FieldInterviewID, id),
			logging.Error(err),
		)
	}
}

func (w *Watcher) onDraftEvent(evt eventbus.DraftEvent) {
	w.draftEvents.Add(1)
	err := w.journal.RecordDraftEvent(w.ctx, audit.DraftEvent{
		Kind:           evt.Kind,
		DraftID:        evt.DraftID,
		SessionID:      evt.SessionID,
		IsRegeneration: evt.IsRegeneration,
		Message:        evt.ErrorMessage,
		ReceivedAt:     time.Now().UTC(),
	})
	if err != nil {
		logging.WarnWithContext(w.logger, "record draft event failed", "journal_write_failed",
			logging.String(logging.FieldDraftID, evt.DraftID),
			logging.Error(err),
		)
	}
	switch {
	case evt.Kind == eventbus.EventGenerationComplete && evt.IsRegeneration:
		w.publish(notifications.EventRegenerationCompleted, notifications.Payload{"id": evt.DraftID})
	case evt.Kind == eventbus.EventGenerationFailed:
		w.publish(notifications.EventRegenerationFailed, notifications.Payload{"id": evt.DraftID, "error": evt.ErrorMessage})
	}
}

func (w *Watcher) publish(event notifications.Event, payload notifications.Payload) {
	if err := w.notifier.Publish(w.ctx, event, payload); err != nil {
		logging.WarnWithContext(w.logger, "notification failed", "notification_failed",
			logging.String("notification", string(event)),
			logging.Error(err),
		)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
