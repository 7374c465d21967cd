package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lifestory/internal/eventbus"
	"lifestory/internal/interview"
	"lifestory/internal/logging"
	"lifestory/internal/services"
)

// ErrBusy is returned by Start and Follow while a run is active.
var ErrBusy = errors.New("tracker already has an active run")

// ErrPipeline marks a failure reported by the processing pipeline.
var ErrPipeline = errors.New("processing pipeline failed")

// Mode selects the upload endpoint.
type Mode int

const (
	// ModeAsync uploads and waits for status events.
	ModeAsync Mode = iota
	// ModeSync uploads and completes when the response arrives.
	ModeSync
)

// Uploader is the REST surface the tracker needs.
type Uploader interface {
	UploadAsync(ctx context.Context, interviewID string, file File) error
	UploadSync(ctx context.Context, interviewID string, file File) (*interview.Interview, error)
	GetInterview(ctx context.Context, interviewID string) (*interview.Interview, error)
}

// Refresher re-fetches the owning session after a completed run.
type Refresher interface {
	RefreshSession(ctx context.Context, sessionID string) error
}

// Subscriber is the event bus surface the tracker needs.
type Subscriber interface {
	OnStatusUpdate(interviewID string, fn eventbus.StatusHandler) eventbus.Subscription
	OffStatusUpdate(interviewID string, subs ...eventbus.Subscription)
}

// SessionContext identifies the session that owns the tracked interview.
type SessionContext struct {
	SessionID  string
	ClientName string
}

// Options configures a Tracker.
type Options struct {
	Mode          Mode
	Limits        Limits
	CompleteDelay time.Duration
	ErrorDelay    time.Duration
	// Timeout bounds how long a run waits for a terminal event, counted from
	// the server accepting the upload. Zero disables it.
	Timeout time.Duration
	// RepeatWindow is how long after a followed run resets a repeat of its
	// terminal status is dropped. Zero uses DefaultRepeatWindow.
	RepeatWindow time.Duration
	Logger       *slog.Logger
}

// DefaultRepeatWindow is the follow-mode repeat filter window.
const DefaultRepeatWindow = 2 * time.Second

// Result is the outcome of one run.
type Result struct {
	InterviewID string
	SessionID   string
	Stage       Stage
	Message     string
	Err         error
	Interview   *interview.Interview
}

// Succeeded reports whether the run completed.
func (r Result) Succeeded() bool { return r.Stage == StageCompleted && r.Err == nil }

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	InterviewID  string      `json:"interviewId,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
	Stage        Stage       `json:"stage"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Selected     *File       `json:"-"`
	Following    bool        `json:"following"`
	Steps        []StageView `json:"steps"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Tracker tracks one interview at a time.
type Tracker struct {
	bus       Subscriber
	api       Uploader
	refresher Refresher
	opts      Options
	logger    *slog.Logger

	mu           sync.Mutex
	run          uint64
	attempt      uint64
	interviewID  string
	session      SessionContext
	stage        Stage
	failedAt     Stage
	lastTerminal Stage
	repeatUntil  time.Time
	errMsg       string
	cause        error
	selected     *File
	latest       *interview.Interview
	follow       bool
	subscription eventbus.Subscription
	subscribed   bool
	results      chan Result
	ctx          context.Context
	cancel       context.CancelFunc
	timer        *time.Timer
	updatedAt    time.Time
}

// New constructs an idle tracker. refresher may be nil.
func New(bus Subscriber, api Uploader, refresher Refresher, opts Options) *Tracker {
	if opts.Limits.MaxBytes == 0 && len(opts.Limits.Extensions) == 0 {
		opts.Limits = DefaultLimits()
	}
	if opts.RepeatWindow <= 0 {
		opts.RepeatWindow = DefaultRepeatWindow
	}
	return &Tracker{
		bus:       bus,
		api:       api,
		refresher: refresher,
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "tracker"),
		stage:     StageIdle,
	}
}

// ValidateFile checks name and size against the configured limits.
func (t *Tracker) ValidateFile(name string, size int64) error {
	return t.opts.Limits.ValidateFile(name, size)
}

// Select stores file as the upload candidate. A rejected file clears the selection.
func (t *Tracker) Select(file File) error {
	err := t.ValidateFile(file.Name, file.Size)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.selected = nil
		return err
	}
	f := file
	t.selected = &f
	return nil
}

// Selected returns the current upload candidate, or nil.
func (t *Tracker) Selected() *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.selected == nil {
		return nil
	}
	f := *t.selected
	return &f
}

// Start uploads file for interviewID and tracks processing. The returned
// channel yields exactly one Result and is then closed. It is closed without a
// result if ctx ends or Close is called first.
func (t *Tracker) Start(ctx context.Context, interviewID string, file File, session SessionContext) (<-chan Result, error) {
	if interviewID == "" {
		return nil, services.Wrap(services.ErrValidation, "tracker", "start", "interview ID is required", nil)
	}
	if err := t.Select(file); err != nil {
		return nil, err
	}
	if t.api == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "start", "no uploader configured", nil)
	}
	async := t.opts.Mode != ModeSync
	if async && t.bus == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "start", "async uploads need an event bus", nil)
	}

	t.mu.Lock()
	if t.results != nil {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	run, attempt, results, runCtx := t.beginLocked(ctx, interviewID, session, false, 1)
	t.stage = StageUploading
	t.updatedAt = time.Now()
	t.mu.Unlock()

	if async {
		t.subscribe(run, interviewID)
	}
	t.logger.Info("upload started",
		logging.String(logging.FieldInterviewID, interviewID),
		logging.String(logging.FieldSessionID, session.SessionID),
		logging.String("file", file.Name),
		logging.Int64("size_bytes", file.Size),
		logging.String(logging.FieldEventType, "upload_started"),
	)
	go t.watchContext(runCtx, run)
	go t.upload(runCtx, attempt, interviewID, file, async)
	return results, nil
}

// Follow tracks interviewID without uploading. Every terminal result is sent on
// the returned channel; the tracker then resets and keeps following until
// Close is called or ctx ends.
func (t *Tracker) Follow(ctx context.Context, interviewID string, session SessionContext) (<-chan Result, error) {
	if interviewID == "" {
		return nil, services.Wrap(services.ErrValidation, "tracker", "follow", "interview ID is required", nil)
	}
	if t.bus == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "follow", "following needs an event bus", nil)
	}
	t.mu.Lock()
	if t.results != nil {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	run, _, results, runCtx := t.beginLocked(ctx, interviewID, session, true, 16)
	t.mu.Unlock()

	t.subscribe(run, interviewID)
	t.logger.Debug("following interview", logging.String(logging.FieldInterviewID, interviewID))
	go t.watchContext(runCtx, run)
	return results, nil
}

// Close abandons the active run. Server-side work is not cancelled.
func (t *Tracker) Close() {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()
	t.stop(run)
}

// Snapshot reports the tracker's state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		InterviewID:  t.interviewID,
		SessionID:    t.session.SessionID,
		Stage:        t.stage,
		ErrorMessage: t.errMsg,
		Following:    t.follow && t.results != nil,
		Steps:        StageViews(t.stage, t.failedAt),
		UpdatedAt:    t.updatedAt,
	}
	if t.selected != nil {
		f := *t.selected
		snap.Selected = &f
	}
	return snap
}

// Stage returns the current stage.
func (t *Tracker) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

func (t *Tracker) beginLocked(parent context.Context, interviewID string, session SessionContext, follow bool, buffer int) (uint64, uint64, chan Result, context.Context) {
	t.run++
	t.attempt++
	runCtx, cancel := context.WithCancel(parent)
	t.ctx = runCtx
	t.cancel = cancel
	t.interviewID = interviewID
	t.session = session
	t.follow = follow
	t.results = make(chan Result, buffer)
	t.stage = StageIdle
	t.failedAt = ""
	t.lastTerminal = ""
	t.repeatUntil = time.Time{}
	t.errMsg = ""
	t.cause = nil
	t.latest = nil
	return t.run, t.attempt, t.results, runCtx
}

func (t *Tracker) subscribe(run uint64, interviewID string) {
	sub := t.bus.OnStatusUpdate(interviewID, t.onStatus)
	t.mu.Lock()
	if run != t.run || t.results == nil {
		t.mu.Unlock()
		t.bus.OffStatusUpdate(interviewID, sub)
		return
	}
	t.subscription = sub
	t.subscribed = true
	t.mu.Unlock()
}

func (t *Tracker) watchContext(ctx context.Context, run uint64) {
	<-ctx.Done()
	t.stop(run)
}

// stop ends run, closing its result channel without a result.
func (t *Tracker) stop(run uint64) {
	t.mu.Lock()
	if run != t.run || t.results == nil {
		t.mu.Unlock()
		return
	}
	id := t.interviewID
	t.logger.Debug("tracking abandoned",
		logging.String(logging.FieldInterviewID, id),
		logging.String(logging.FieldStage, string(t.stage)),
	)
	cleanup := t.finalizeLocked()
	t.mu.Unlock()
	cleanup()
}

// finalizeLocked resets the tracker and closes the result channel. The
// returned func releases the bus subscription and must run unlocked.
func (t *Tracker) finalizeLocked() func() {
	close(t.results)
	t.results = nil
	t.attempt++
	t.resetLocked()
	t.follow = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	cancel := t.cancel
	t.cancel = nil
	id, sub, subscribed := t.interviewID, t.subscription, t.subscribed
	t.subscribed = false
	return func() {
		if cancel != nil {
			cancel()
		}
		if subscribed {
			t.bus.OffStatusUpdate(id, sub)
		}
	}
}

func (t *Tracker) resetLocked() {
	t.stage = StageIdle
	t.failedAt = ""
	t.errMsg = ""
	t.cause = nil
	t.selected = nil
	t.updatedAt = time.Now()
}

func (t *Tracker) armTimerLocked() {
	if t.opts.Timeout <= 0 {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	attempt := t.attempt
	t.timer = time.AfterFunc(t.opts.Timeout, func() { t.onTimeout(attempt) })
}

func (t *Tracker) upload(ctx context.Context, attempt uint64, interviewID string, file File, async bool) {
	if !async {
		iv, err := t.api.UploadSync(ctx, interviewID, file)
		if err != nil {
			t.requestFailed(attempt, err)
			return
		}
		t.mu.Lock()
		if attempt == t.attempt {
			t.latest = iv
		}
		t.mu.Unlock()
		t.advance(attempt, StageCompleted, "", nil)
		return
	}
	if err := t.api.UploadAsync(ctx, interviewID, file); err != nil {
		t.requestFailed(attempt, err)
		return
	}
	t.mu.Lock()
	if attempt == t.attempt && t.results != nil && !t.stage.Terminal() {
		t.armTimerLocked()
	}
	t.mu.Unlock()
	t.logger.Info("upload accepted, awaiting processing events",
		logging.String(logging.FieldInterviewID, interviewID),
		logging.String(logging.FieldEventType, "upload_accepted"),
	)
}

// requestFailed ends the run immediately; request errors are not held for the
// display delay.
func (t *Tracker) requestFailed(attempt uint64, err error) {
	t.mu.Lock()
	if attempt != t.attempt || t.results == nil {
		t.mu.Unlock()
		return
	}
	result := Result{
		InterviewID: t.interviewID,
		SessionID:   t.session.SessionID,
		Stage:       StageError,
		Message:     err.Error(),
		Err:         err,
	}
	logging.WarnWithContext(t.logger, "upload request failed", "upload_request_failed",
		logging.String(logging.FieldInterviewID, t.interviewID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the API URL and token, then retry the upload"),
		logging.String(logging.FieldImpact, "file was not accepted"),
	)
	t.results <- result
	cleanup := t.finalizeLocked()
	t.mu.Unlock()
	cleanup()
}

func (t *Tracker) onStatus(evt eventbus.StatusEvent) {
	stage, ok := ParseStage(evt.Status)
	if !ok {
		t.logger.Debug("ignoring unknown status",
			logging.String(logging.FieldInterviewID, evt.InterviewID),
			logging.String("status", evt.Status),
		)
		return
	}
	t.mu.Lock()
	attempt := t.attempt
	t.mu.Unlock()
	var cause error
	if stage == StageError {
		cause = services.Wrap(ErrPipeline, "tracker", "process", evt.ErrorMessage, nil)
	}
	t.advance(attempt, stage, evt.ErrorMessage, cause)
}

// advance moves the tracker to next when that is a forward step.
func (t *Tracker) advance(attempt uint64, next Stage, message string, cause error) {
	t.mu.Lock()
	if attempt != t.attempt || t.results == nil {
		t.mu.Unlock()
		return
	}
	cur := t.stage
	id := t.interviewID
	switch {
	case cur.Terminal():
		t.mu.Unlock()
		return
	case cur == StageIdle && next == t.lastTerminal && time.Now().Before(t.repeatUntil):
		t.mu.Unlock()
		t.logger.Debug("ignoring repeated terminal status", logging.String(logging.FieldInterviewID, id))
		return
	case next != StageError && next.index() <= cur.index():
		t.mu.Unlock()
		t.logger.Debug("ignoring stale status",
			logging.String(logging.FieldInterviewID, id),
			logging.String(logging.FieldStage, string(cur)),
			logging.String("received", string(next)),
		)
		return
	}

	t.stage = next
	t.updatedAt = time.Now()
	if next == StageError {
		t.failedAt = cur
		t.errMsg = message
		t.cause = cause
	}
	if next.Terminal() {
		t.lastTerminal = next
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	} else if t.follow && cur == StageIdle {
		t.lastTerminal = ""
		t.armTimerLocked()
	}
	t.mu.Unlock()

	t.logger.Info("pipeline stage changed",
		logging.String(logging.FieldInterviewID, id),
		logging.String(logging.FieldStage, string(next)),
		logging.String("previous", string(cur)),
		logging.String(logging.FieldEventType, "pipeline_stage"),
	)
	if next.Terminal() {
		go t.finish(attempt, next)
	}
}

// finish runs the terminal side effects and delivers the result after the display delay.
func (t *Tracker) finish(attempt uint64, stage Stage) {
	t.mu.Lock()
	ctx := t.ctx
	sessionID := t.session.SessionID
	t.mu.Unlock()

	delay := t.opts.ErrorDelay
	if stage == StageCompleted {
		delay = t.opts.CompleteDelay
		if t.refresher != nil && sessionID != "" {
			if err := t.refresher.RefreshSession(ctx, sessionID); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(t.logger, "session refresh failed", "session_refresh_failed",
					logging.String(logging.FieldSessionID, sessionID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "session aggregates may be stale"),
				)
			}
		}
	}
	if !sleep(ctx, delay) {
		return
	}

	t.mu.Lock()
	if attempt != t.attempt || t.results == nil {
		t.mu.Unlock()
		return
	}
	result := Result{
		InterviewID: t.interviewID,
		SessionID:   t.session.SessionID,
		Stage:       stage,
		Interview:   t.latest,
	}
	if stage == StageError {
		result.Message = t.errMsg
		result.Err = t.cause
		if result.Err == nil {
			result.Err = services.Wrap(ErrPipeline, "tracker", "process", t.errMsg, nil)
		}
	}
	if t.follow {
		select {
		case t.results <- result:
		default:
			t.logger.Debug("dropping result for slow consumer", logging.String(logging.FieldInterviewID, result.InterviewID))
		}
		t.attempt++
		t.resetLocked()
		t.latest = nil
		t.repeatUntil = time.Now().Add(t.opts.RepeatWindow)
		t.mu.Unlock()
		return
	}
	t.results <- result
	cleanup := t.finalizeLocked()
	t.mu.Unlock()
	cleanup()
}

// onTimeout polls the REST API once and settles the run on what it reports.
func (t *Tracker) onTimeout(attempt uint64) {
	t.mu.Lock()
	if attempt != t.attempt || t.results == nil || t.stage.Terminal() {
		t.mu.Unlock()
		return
	}
	ctx := t.ctx
	id := t.interviewID
	t.timer = nil
	t.mu.Unlock()

	logging.WarnWithContext(t.logger, "no terminal status before timeout, polling", "tracking_timeout",
		logging.String(logging.FieldInterviewID, id),
		logging.Duration("timeout", t.opts.Timeout),
		logging.String(logging.FieldErrorHint, "check the event channel connection"),
		logging.String(logging.FieldImpact, "result taken from a one-shot status poll"),
	)

	iv, err := t.api.GetInterview(ctx, id)
	if ctx.Err() != nil {
		return
	}
	timeoutErr := func(detail string, cause error) error {
		return services.Wrap(services.ErrTimeout, "tracker", "poll", detail, cause)
	}
	switch {
	case err != nil:
		msg := "timed out waiting for processing and status poll failed"
		t.advance(attempt, StageError, msg, timeoutErr(msg, err))
	case iv.Finished():
		t.mu.Lock()
		if attempt == t.attempt {
			t.latest = iv
		}
		t.mu.Unlock()
		t.advance(attempt, StageCompleted, "", nil)
	case iv.Failed():
		msg := iv.ErrorMessage
		if msg == "" {
			msg = "processing failed"
		}
		t.advance(attempt, StageError, msg, services.Wrap(ErrPipeline, "tracker", "poll", msg, nil))
	default:
		msg := fmt.Sprintf("timed out waiting for processing (interview status %q)", iv.Status)
		t.advance(attempt, StageError, msg, timeoutErr(msg, nil))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
