package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/services"
)

// ErrGenerationFailed marks a regeneration the server reported as failed.
var ErrGenerationFailed = errors.New("draft generation failed")

// ErrNotTracked is returned by Wait for a draft with no regeneration in flight.
var ErrNotTracked = errors.New("no regeneration tracked for draft")

// How a regeneration was settled.
const (
	MatchDraft   = "draft"
	MatchSession = "session"
	MatchPoll    = "poll"
)

// Poller fetches a draft for the timeout fallback.
type Poller interface {
	GetDraft(ctx context.Context, draftID string) (*draft.Draft, error)
}

// Regenerator issues the regeneration request.
type Regenerator interface {
	Regenerate(ctx context.Context, d draft.Draft, instructions string, admin draft.Actor, inFlight bool) (*draft.Regeneration, error)
}

// Completion describes how a regeneration ended.
type Completion struct {
	DraftID    string
	NewDraftID string
	SessionID  string
	Succeeded  bool
	Message    string
	MatchedBy  string
	// Payload is the generated draft carried by the event, when present.
	Payload json.RawMessage
	// Polled is the draft returned by the timeout poll.
	Polled *draft.Draft
}

type flight struct {
	draftID    string
	sessionID  string
	version    int
	newDraftID string
	started    time.Time
	done       chan struct{}
	finished   bool
	cancelled  bool
	result     Completion
}

// Gate tracks in-flight regenerations keyed by the original draft ID.
type Gate struct {
	poller  Poller
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// NewGate returns a gate that polls through poller after timeout. A zero
// timeout waits for events only.
func NewGate(poller Poller, timeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		poller:  poller,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "reconcile"),
		flights: make(map[string]*flight),
	}
}

// Begin marks a regeneration of draftID as in flight.
func (g *Gate) Begin(draftID, sessionID string, version int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[draftID]; ok && !f.finished {
		return services.Wrap(services.ErrConflict, "reconcile", "begin", "regeneration already in progress", draft.ErrRegenerating)
	}
	g.flights[draftID] = &flight{
		draftID:   draftID,
		sessionID: sessionID,
		version:   version,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	return nil
}

// InFlight reports whether draftID has an unsettled regeneration.
func (g *Gate) InFlight(draftID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.flights[draftID]
	return ok && !f.finished
}

// Active returns the original draft IDs with unsettled regenerations.
func (g *Gate) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, f := range g.flights {
		if !f.finished {
			ids = append(ids, id)
		}
	}
	return ids
}

// Track associates the draft row created by the regeneration with original.
func (g *Gate) Track(original, newDraftID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[original]; ok && newDraftID != "" && newDraftID != original {
		f.newDraftID = newDraftID
	}
}

// Cancel forgets the regeneration of draftID. Wait callers receive ErrNotTracked.
func (g *Gate) Cancel(draftID string) {
	g.mu.Lock()
	f, ok := g.flights[draftID]
	delete(g.flights, draftID)
	if ok && !f.finished {
		f.finished = true
		f.cancelled = true
		close(f.done)
	}
	g.mu.Unlock()
}

// Observe settles an in-flight regeneration from a draft event. A draftId
// match always wins; a sessionId match is used only when no draft matched.
// Non-terminal events never settle a flight.
func (g *Gate) Observe(evt eventbus.DraftEvent) (Completion, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, matchedBy := g.matchLocked(evt)
	if f == nil {
		return Completion{}, false
	}
	if !evt.Terminal() {
		if evt.DraftID != "" && evt.DraftID != f.draftID && f.newDraftID == "" {
			f.newDraftID = evt.DraftID
		}
		return Completion{}, false
	}
	result := Completion{
		DraftID:    f.draftID,
		NewDraftID: f.newDraftID,
		SessionID:  f.sessionID,
		Succeeded:  evt.Kind == eventbus.EventGenerationComplete,
		Message:    evt.ErrorMessage,
		MatchedBy:  matchedBy,
		Payload:    evt.Draft,
	}
	if result.NewDraftID == "" && evt.DraftID != f.draftID {
		result.NewDraftID = evt.DraftID
	}
	g.settleLocked(f, result)
	return result, true
}

func (g *Gate) matchLocked(evt eventbus.DraftEvent) (*flight, string) {
	if evt.DraftID != "" {
		for _, f := range g.flights {
			if f.finished {
				continue
			}
			if f.draftID == evt.DraftID || f.newDraftID == evt.DraftID {
				return f, MatchDraft
			}
		}
	}
	if evt.SessionID != "" {
		for _, f := range g.flights {
			if !f.finished && f.sessionID == evt.SessionID {
				return f, MatchSession
			}
		}
	}
	return nil, ""
}

func (g *Gate) settleLocked(f *flight, result Completion) {
	f.finished = true
	f.result = result
	close(f.done)
	g.logger.Info("regeneration settled",
		logging.String(logging.FieldDraftID, f.draftID),
		logging.String("new_draft_id", result.NewDraftID),
		logging.Bool("succeeded", result.Succeeded),
		logging.String("matched_by", result.MatchedBy),
		logging.Duration("elapsed", time.Since(f.started)),
		logging.String(logging.FieldEventType, "regeneration_settled"),
	)
}

// Wait blocks until the regeneration of draftID settles. On timeout it polls
// once: a newer version on the same session completes the regeneration and
// anything else returns a timeout error. Failed generations return
// ErrGenerationFailed alongside the completion.
func (g *Gate) Wait(ctx context.Context, draftID string) (Completion, error) {
	g.mu.Lock()
	f, ok := g.flights[draftID]
	g.mu.Unlock()
	if !ok {
		return Completion{}, ErrNotTracked
	}

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-f.done:
		return g.collect(f)
	case <-ctx.Done():
		g.abandon(f)
		return Completion{}, ctx.Err()
	case <-timeout:
	}
	return g.poll(ctx, f)
}

// abandon forgets f when its waiter gives up, so a later Begin for the same
// draft is not refused. The server-side job is left running.
func (g *Gate) abandon(f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.flights[f.draftID]; ok && cur == f {
		delete(g.flights, f.draftID)
	}
	if !f.finished {
		f.finished = true
		f.cancelled = true
		close(f.done)
	}
}

func (g *Gate) collect(f *flight) (Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcomeLocked(f)
}

// outcomeLocked returns the result of a finished flight and forgets it.
func (g *Gate) outcomeLocked(f *flight) (Completion, error) {
	if !f.finished || f.cancelled {
		return Completion{}, ErrNotTracked
	}
	if cur, ok := g.flights[f.draftID]; ok && cur == f {
		delete(g.flights, f.draftID)
	}
	if !f.result.Succeeded {
		msg := f.result.Message
		if msg == "" {
			msg = "generation failed"
		}
		return f.result, services.Wrap(ErrGenerationFailed, "reconcile", "wait", msg, nil)
	}
	return f.result, nil
}

func (g *Gate) poll(ctx context.Context, f *flight) (Completion, error) {
	g.mu.Lock()
	if f.finished {
		defer g.mu.Unlock()
		return g.outcomeLocked(f)
	}
	target := f.newDraftID
	if target == "" {
		target = f.draftID
	}
	g.mu.Unlock()

	logging.WarnWithContext(g.logger, "no regeneration event before timeout, polling", "regeneration_timeout",
		logging.String(logging.FieldDraftID, f.draftID),
		logging.Duration("timeout", g.timeout),
		logging.String(logging.FieldErrorHint, "check the event channel connection"),
		logging.String(logging.FieldImpact, "result taken from a one-shot draft poll"),
	)

	var (
		polled *draft.Draft
		err    error
	)
	if g.poller != nil {
		polled, err = g.poller.GetDraft(ctx, target)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if f.finished {
		// Settled or cancelled while polling.
		return g.outcomeLocked(f)
	}
	if err == nil && polled != nil && polled.Version > f.version &&
		(f.sessionID == "" || polled.SessionID == "" || polled.SessionID == f.sessionID) {
		result := Completion{
			DraftID:    f.draftID,
			NewDraftID: polled.ID,
			SessionID:  f.sessionID,
			Succeeded:  true,
			MatchedBy:  MatchPoll,
			Polled:     polled,
		}
		g.settleLocked(f, result)
		delete(g.flights, f.draftID)
		return result, nil
	}
	f.finished = true
	close(f.done)
	delete(g.flights, f.draftID)
	return Completion{DraftID: f.draftID, NewDraftID: f.newDraftID, SessionID: f.sessionID, MatchedBy: MatchPoll, Polled: polled},
		services.Wrap(services.ErrTimeout, "reconcile", "wait", "regeneration did not finish before the timeout", err)
}

// Run begins a regeneration, issues it through svc, and waits for it to settle.
func (g *Gate) Run(ctx context.Context, svc Regenerator, d draft.Draft, instructions string, admin draft.Actor) (Completion, error) {
	if err := draft.RegenerationBlocker(d, g.InFlight(d.ID)); err != nil {
		return Completion{}, err
	}
	if err := g.Begin(d.ID, d.SessionID, d.Version); err != nil {
		return Completion{}, err
	}
	regen, err := svc.Regenerate(ctx, d, instructions, admin, false)
	if err != nil {
		g.Cancel(d.ID)
		return Completion{}, err
	}
	if regen != nil && regen.Draft != nil {
		g.Track(d.ID, regen.Draft.ID)
	}
	return g.Wait(ctx, d.ID)
}
