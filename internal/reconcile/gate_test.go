package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/reconcile"
	"lifestory/internal/services"
)

type fakePoller struct {
	mu     sync.Mutex
	drafts map[string]*draft.Draft
	calls  []string
}

func (p *fakePoller) GetDraft(ctx context.Context, id string) (*draft.Draft, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, id)
	if d, ok := p.drafts[id]; ok {
		return d, nil
	}
	return nil, services.Wrap(services.ErrNotFound, "fake", "get", "no draft", nil)
}

func complete(draftID, sessionID string) eventbus.DraftEvent {
	return eventbus.DraftEvent{Kind: eventbus.EventGenerationComplete, DraftID: draftID, SessionID: sessionID, IsRegeneration: true}
}

func TestRequestResolutionDoesNotSettle(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	if err := gate.Begin("d1", "s1", 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	gate.Track("d1", "d2")
	if !gate.InFlight("d1") {
		t.Fatal("regeneration should stay in flight until an event arrives")
	}
	if err := gate.Begin("d1", "s1", 1); !errors.Is(err, draft.ErrRegenerating) {
		t.Fatalf("second Begin = %v, want ErrRegenerating", err)
	}
}

func TestObserveMatchesDraftBeforeSession(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	_ = gate.Begin("d9", "s1", 3)

	got, ok := gate.Observe(complete("d9", "s1"))
	if !ok || got.DraftID != "d9" || got.MatchedBy != reconcile.MatchDraft {
		t.Fatalf("Observe = %+v, %v", got, ok)
	}
	if !gate.InFlight("d1") {
		t.Fatal("d1 should be untouched by an event for d9")
	}
}

func TestObserveMatchesNewDraftID(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	gate.Track("d1", "d2")
	got, ok := gate.Observe(complete("d2", ""))
	if !ok || got.DraftID != "d1" || got.NewDraftID != "d2" {
		t.Fatalf("Observe = %+v, %v", got, ok)
	}
}

func TestObserveSessionOnlyWhileInFlight(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	if _, ok := gate.Observe(complete("", "s1")); ok {
		t.Fatal("session event settled with nothing in flight")
	}
	_ = gate.Begin("d1", "s1", 1)
	if _, ok := gate.Observe(complete("", "s2")); ok {
		t.Fatal("unrelated session settled the regeneration")
	}
	got, ok := gate.Observe(complete("", "s1"))
	if !ok || got.MatchedBy != reconcile.MatchSession {
		t.Fatalf("Observe = %+v, %v", got, ok)
	}
	if _, ok := gate.Observe(complete("", "s1")); ok {
		t.Fatal("settled regeneration matched again")
	}
}

func TestStartedEventDoesNotSettle(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	started := eventbus.DraftEvent{Kind: eventbus.EventRegenerationStarted, DraftID: "d1", SessionID: "s1"}
	if _, ok := gate.Observe(started); ok {
		t.Fatal("started event settled the regeneration")
	}
	if !gate.InFlight("d1") {
		t.Fatal("still expected in flight")
	}
}

func TestWaitReturnsEventOutcome(t *testing.T) {
	gate := reconcile.NewGate(nil, time.Minute, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		gate.Observe(eventbus.DraftEvent{Kind: eventbus.EventGenerationFailed, DraftID: "d1", ErrorMessage: "model overloaded"})
	}()
	got, err := gate.Wait(context.Background(), "d1")
	if !errors.Is(err, reconcile.ErrGenerationFailed) {
		t.Fatalf("Wait err = %v, want ErrGenerationFailed", err)
	}
	if got.Succeeded || got.Message != "model overloaded" {
		t.Fatalf("completion = %+v", got)
	}
	if gate.InFlight("d1") {
		t.Fatal("flight should be cleared")
	}
}

func TestWaitAfterEventReturnsImmediately(t *testing.T) {
	gate := reconcile.NewGate(nil, time.Minute, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	gate.Observe(complete("d1", "s1"))
	got, err := gate.Wait(context.Background(), "d1")
	if err != nil || !got.Succeeded {
		t.Fatalf("Wait = %+v, %v", got, err)
	}
	if _, err := gate.Wait(context.Background(), "d1"); !errors.Is(err, reconcile.ErrNotTracked) {
		t.Fatalf("second Wait = %v, want ErrNotTracked", err)
	}
}

func TestWaitTimeoutPollsOnce(t *testing.T) {
	newer := &draft.Draft{ID: "d2", SessionID: "s1", Version: 2, Stage: draft.StageFirstDraft}
	poller := &fakePoller{drafts: map[string]*draft.Draft{"d2": newer}}
	gate := reconcile.NewGate(poller, 20*time.Millisecond, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	gate.Track("d1", "d2")

	got, err := gate.Wait(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !got.Succeeded || got.MatchedBy != reconcile.MatchPoll || got.Polled != newer {
		t.Fatalf("completion = %+v", got)
	}
	if len(poller.calls) != 1 || poller.calls[0] != "d2" {
		t.Fatalf("poll calls = %v", poller.calls)
	}
}

func TestWaitTimeoutWithoutNewerVersion(t *testing.T) {
	same := &draft.Draft{ID: "d1", SessionID: "s1", Version: 1}
	poller := &fakePoller{drafts: map[string]*draft.Draft{"d1": same}}
	gate := reconcile.NewGate(poller, 20*time.Millisecond, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)

	_, err := gate.Wait(context.Background(), "d1")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("Wait err = %v, want ErrTimeout", err)
	}
	if gate.InFlight("d1") {
		t.Fatal("timed out flight should be cleared so the admin can retry")
	}
}

func TestCancelReleasesWaiter(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	_ = gate.Begin("d1", "s1", 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		gate.Cancel("d1")
	}()
	if _, err := gate.Wait(context.Background(), "d1"); !errors.Is(err, reconcile.ErrNotTracked) {
		t.Fatalf("Wait err = %v, want ErrNotTracked", err)
	}
}

func TestAbandonedWaitReleasesDraft(t *testing.T) {
	gate := reconcile.NewGate(nil, time.Minute, logging.NewNop())
	if err := gate.Begin("d1", "s1", 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Wait(ctx, "d1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}
	if gate.InFlight("d1") {
		t.Fatal("expected abandoned regeneration to be forgotten")
	}
	if err := gate.Begin("d1", "s1", 1); err != nil {
		t.Fatalf("Begin after abandoned wait: %v", err)
	}
	if _, ok := gate.Observe(complete("d1", "s1")); !ok {
		t.Fatal("expected the new flight to settle")
	}
}

type fakeRegenerator struct {
	err    error
	regen  *draft.Regeneration
	called int
}

func (f *fakeRegenerator) Regenerate(ctx context.Context, d draft.Draft, instructions string, admin draft.Actor, inFlight bool) (*draft.Regeneration, error) {
	f.called++
	return f.regen, f.err
}

func regenerable() draft.Draft {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return draft.Draft{
		ID:        "d1",
		SessionID: "s1",
		Version:   1,
		Stage:     draft.StageUnderReview,
		CreatedAt: created,
		Content: draft.Content{
			Metadata: draft.Metadata{ProcessedAt: created},
			Notes:    []draft.Note{{ID: "n1", Content: "more detail", CreatedAt: created.Add(time.Hour)}},
		},
	}
}

func TestRunCancelsOnRequestFailure(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	svc := &fakeRegenerator{err: services.Wrap(services.ErrTransient, "fake", "regenerate", "down", nil)}
	if _, err := gate.Run(context.Background(), svc, regenerable(), "", draft.Actor{ID: "a"}); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("Run err = %v", err)
	}
	if gate.InFlight("d1") {
		t.Fatal("failed request left regeneration in flight")
	}
}

func TestRunWaitsForEvent(t *testing.T) {
	gate := reconcile.NewGate(nil, time.Minute, logging.NewNop())
	svc := &fakeRegenerator{regen: &draft.Regeneration{Draft: &draft.Draft{ID: "d2"}, PreviousDraftID: "d1", Version: 2}}
	go func() {
		for !gate.InFlight("d1") {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		gate.Observe(complete("d2", "s1"))
	}()
	got, err := gate.Run(context.Background(), svc, regenerable(), "expand childhood", draft.Actor{ID: "a"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.NewDraftID != "d2" || svc.called != 1 {
		t.Fatalf("completion = %+v, calls = %d", got, svc.called)
	}
}

func TestRunRejectsFinalizedDraft(t *testing.T) {
	gate := reconcile.NewGate(nil, 0, logging.NewNop())
	d := regenerable()
	d.Stage = draft.StageApproved
	svc := &fakeRegenerator{}
	if _, err := gate.Run(context.Background(), svc, d, "", draft.Actor{ID: "a"}); !errors.Is(err, draft.ErrFinalized) {
		t.Fatalf("Run err = %v, want ErrFinalized", err)
	}
	if svc.called != 0 {
		t.Fatal("finalized draft reached the API")
	}
}
