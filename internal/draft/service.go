package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifestory/internal/logging"
	"lifestory/internal/services"
)

// NoteInput is the body of an add-note request.
type NoteInput struct {
	Content string `json:"content"`
	Author  string `json:"author"`
}

// RegenerateRequest is the body of a regeneration request.
type RegenerateRequest struct {
	DraftID      string   `json:"-"`
	Instructions string   `json:"instructions"`
	Notes        []string `json:"notes"`
}

// Regeneration is the server's acknowledgment of a regeneration request.
// The new draft may still be generating when this is returned.
type Regeneration struct {
	Draft           *Draft `json:"draft,omitempty"`
	PreviousDraftID string `json:"previousDraftId"`
	Type            string `json:"regenerationType,omitempty"`
	Version         int    `json:"version"`
}

// API is the subset of the admin REST API the workflow depends on. A nil
// draft with a nil error from TransitionStage means the server replied with a
// bare success envelope.
type API interface {
	TransitionStage(ctx context.Context, req TransitionRequest) (*Draft, error)
	AddNote(ctx context.Context, draftID string, note NoteInput) (*Note, error)
	Regenerate(ctx context.Context, req RegenerateRequest) (*Regeneration, error)
	GetDraft(ctx context.Context, draftID string) (*Draft, error)
}

// ErrNoJournal is returned by History when the service has no journal.
var ErrNoJournal = errors.New("history journal not configured")

// Service issues draft workflow actions after checking local guards.
type Service struct {
	api     API
	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every confirmed action in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a workflow service backed by api.
func NewService(api API, opts ...Option) *Service {
	s := &Service{api: api, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "draft")
	return s
}

// Transition validates and issues a stage transition for current. On success
// it returns the server-confirmed draft; current is never modified.
func (s *Service) Transition(ctx context.Context, current Draft, req TransitionRequest) (*Draft, error) {
	req.DraftID = current.ID
	ctx = s.scope(ctx, current)
	logger := logging.WithContext(ctx, s.logger)

	if err := ValidateTransition(current.Stage, req); err != nil {
		logger.Info("transition refused locally",
			logging.String(logging.FieldEventType, "draft_transition_refused"),
			logging.String("target", string(req.Target)),
			logging.Error(err),
		)
		return nil, err
	}

	updated, err := s.api.TransitionStage(ctx, req)
	if err != nil {
		logging.WarnWithContext(logger, "stage transition failed", "draft_transition_failed",
			logging.String("target", string(req.Target)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "draft stage unchanged"),
		)
		return nil, err
	}
	if updated == nil {
		if updated, err = s.api.GetDraft(ctx, current.ID); err != nil {
			return nil, services.Wrap(services.ErrTransient, "draft", "transition",
				"stage change accepted but refreshing the draft failed", err)
		}
	}
	if updated.Stage != req.Target {
		return nil, services.Wrap(services.ErrConflict, "draft", "transition",
			fmt.Sprintf("server reported stage %s after requesting %s", updated.Stage, req.Target), nil)
	}

	reason := req.Reason
	if req.Target == StageRejected {
		reason = req.rejectionText()
	}
	s.record(ctx, HistoryEntry{
		DraftID:   current.ID,
		Action:    ActionFor(req.Target),
		FromStage: current.Stage,
		ToStage:   updated.Stage,
		Actor:     req.Admin,
		Reason:    strings.TrimSpace(reason),
		Version:   updated.Version,
	})
	logger.Info("draft stage changed",
		logging.String(logging.FieldEventType, "draft_transition"),
		logging.String("from", string(current.Stage)),
		logging.String("to", string(updated.Stage)),
		logging.String("actor", req.Admin.DisplayName()),
	)
	return updated, nil
}

// SendToReview moves a first draft into review.
func (s *Service) SendToReview(ctx context.Context, d Draft, admin Actor) (*Draft, error) {
	return s.Transition(ctx, d, TransitionRequest{Target: StageUnderReview, Admin: admin})
}

// SubmitForApproval moves a reviewed draft to pending approval.
func (s *Service) SubmitForApproval(ctx context.Context, d Draft, admin Actor) (*Draft, error) {
	return s.Transition(ctx, d, TransitionRequest{Target: StagePendingApproval, Admin: admin})
}

// Approve finalizes d as approved with optional notes.
func (s *Service) Approve(ctx context.Context, d Draft, admin Actor, notes string) (*Draft, error) {
	return s.Transition(ctx, d, TransitionRequest{Target: StageApproved, Reason: notes, Admin: admin})
}

// Reject finalizes d as rejected. The reason must have at least
// MinRejectionReason characters after trimming.
func (s *Service) Reject(ctx context.Context, d Draft, admin Actor, reason string) (*Draft, error) {
	return s.Transition(ctx, d, TransitionRequest{Target: StageRejected, RejectionReason: reason, Admin: admin})
}

// AddNote attaches a note to d. When the server answers with a bare success
// envelope the returned note carries a locally generated ID.
func (s *Service) AddNote(ctx context.Context, d Draft, content string, author Actor) (*Note, error) {
	ctx = s.scope(ctx, d)
	if !CanAddNote(d) {
		return nil, invalid("add note", fmt.Sprintf("draft is %s", d.Stage), ErrFinalized)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("add note", "note is blank", ErrEmptyNote)
	}

	input := NoteInput{Content: content, Author: author.DisplayName()}
	note, err := s.api.AddNote(ctx, d.ID, input)
	if err != nil {
		return nil, err
	}
	if note == nil {
		note = &Note{Author: input.Author, Content: input.Content}
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = s.now().UTC()
	}

	s.record(ctx, HistoryEntry{
		DraftID:   d.ID,
		Action:    ActionAddNote,
		FromStage: d.Stage,
		ToStage:   d.Stage,
		Actor:     author,
		Reason:    content,
		Version:   d.Version,
	})
	return note, nil
}

// Regenerate requests a new version of d built from the notes added since it
// was last generated. The returned acknowledgment does not mean the new draft
// is ready; completion arrives as a push event.
func (s *Service) Regenerate(ctx context.Context, d Draft, instructions string, admin Actor, inFlight bool) (*Regeneration, error) {
	ctx = s.scope(ctx, d)
	if err := RegenerationBlocker(d, inFlight); err != nil {
		return nil, err
	}

	fresh := NotesSinceGeneration(d)
	notes := make([]string, 0, len(fresh))
	for _, note := range fresh {
		notes = append(notes, note.Content)
	}
	ack, err := s.api.Regenerate(ctx, RegenerateRequest{
		DraftID:      d.ID,
		Instructions: strings.TrimSpace(instructions),
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}
	if ack == nil {
		ack = &Regeneration{}
	}
	if ack.PreviousDraftID == "" {
		ack.PreviousDraftID = d.ID
	}

	s.record(ctx, HistoryEntry{
		DraftID:   d.ID,
		Action:    ActionRegenerate,
		FromStage: d.Stage,
		ToStage:   d.Stage,
		Actor:     admin,
		Reason:    strings.TrimSpace(instructions),
		Version:   ack.Version,
	})
	logging.WithContext(ctx, s.logger).Info("regeneration requested",
		logging.String(logging.FieldEventType, "draft_regeneration_requested"),
		logging.Int("notes", len(notes)),
		logging.Int("version", ack.Version),
	)
	return ack, nil
}

// History returns the audit trail matching filter.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.Query(ctx, filter)
}

func (s *Service) scope(ctx context.Context, d Draft) context.Context {
	ctx = services.WithDraftID(ctx, d.ID)
	ctx = services.WithSessionID(ctx, d.SessionID)
	return services.WithStage(ctx, string(d.Stage))
}

// record appends to the journal. Journal failures are logged and swallowed
// because the server has already applied the change.
func (s *Service) record(ctx context.Context, entry HistoryEntry) {
	if s.journal == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now().UTC()
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		entry.RequestID = rid
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "history append failed", "history_append_failed",
			logging.String("action", string(entry.Action)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the journal database path and permissions"),
			logging.String(logging.FieldImpact, "action applied but missing from local history"),
		)
	}
}
