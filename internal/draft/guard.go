package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lifestory/internal/services"
)

// MinRejectionReason is the minimum trimmed length of a rejection reason.
const MinRejectionReason = 10

var (
	ErrUnknownStage      = errors.New("unknown draft stage")
	ErrLegacyStage       = errors.New("legacy draft stage")
	ErrFinalized         = errors.New("draft is finalized")
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrReasonTooShort    = errors.New("rejection reason too short")
	ErrActorRequired     = errors.New("actor identity required")
	ErrEmptyNote         = errors.New("note content is empty")
	ErrNoNewNotes        = errors.New("no notes added since last generation")
	ErrRegenerating      = errors.New("regeneration already in progress")
)

// TransitionRequest is the input of a stage transition.
type TransitionRequest struct {
	DraftID         string `json:"draftId"`
	Target          Stage  `json:"targetStage"`
	Reason          string `json:"reason,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	Admin           Actor  `json:"adminUser"`
}

func (r TransitionRequest) rejectionText() string {
	if strings.TrimSpace(r.RejectionReason) != "" {
		return r.RejectionReason
	}
	return r.Reason
}

// ValidateTransition checks a transition request against the current stage.
// Every failure wraps services.ErrValidation plus one of the package errors.
func ValidateTransition(current Stage, req TransitionRequest) error {
	if !req.Target.Valid() {
		return invalid("validate transition", fmt.Sprintf("target stage %q", req.Target), ErrUnknownStage)
	}
	if current.IsTerminal() {
		return invalid("validate transition", fmt.Sprintf("draft is %s", current), ErrFinalized)
	}
	if !CanTransition(current, req.Target) {
		return invalid("validate transition", fmt.Sprintf("%s -> %s", current, req.Target), ErrIllegalTransition)
	}
	switch req.Target {
	case StageRejected:
		if n := utf8.RuneCountInString(strings.TrimSpace(req.rejectionText())); n < MinRejectionReason {
			return invalid("validate transition",
				fmt.Sprintf("reason has %d characters, need at least %d", n, MinRejectionReason), ErrReasonTooShort)
		}
		fallthrough
	case StageApproved:
		if !req.Admin.Identified() {
			return invalid("validate transition", "approve and reject need an admin id or email", ErrActorRequired)
		}
	}
	return nil
}

// Apply returns a copy of d moved to req.Target with the decision metadata a
// server records. It does not validate; call ValidateTransition first.
func Apply(d Draft, req TransitionRequest, now time.Time) Draft {
	out := d.Clone()
	out.Stage = req.Target
	out.UpdatedAt = now
	switch req.Target {
	case StageApproved:
		out.Approval = &Decision{By: req.Admin.DisplayName(), At: now, Reason: strings.TrimSpace(req.Reason)}
	case StageRejected:
		out.Rejection = &Decision{By: req.Admin.DisplayName(), At: now, Reason: strings.TrimSpace(req.rejectionText())}
	}
	return out
}

// CanAddNote reports whether notes may still be attached to d.
func CanAddNote(d Draft) bool {
	return !d.Stage.IsTerminal()
}

// NotesSinceGeneration returns the notes created after the draft was last generated.
func NotesSinceGeneration(d Draft) []Note {
	since := d.LastGeneratedAt()
	var fresh []Note
	for _, note := range d.Content.Notes {
		if since.IsZero() || note.CreatedAt.After(since) {
			fresh = append(fresh, note)
		}
	}
	return fresh
}

// RegenerationBlocker explains why d cannot be regenerated, or returns nil.
func RegenerationBlocker(d Draft, inFlight bool) error {
	switch {
	case d.Stage.IsTerminal():
		return invalid("regenerate", fmt.Sprintf("draft is %s", d.Stage), ErrFinalized)
	case inFlight:
		return invalid("regenerate", "wait for the running regeneration to finish", ErrRegenerating)
	case len(NotesSinceGeneration(d)) == 0:
		return invalid("regenerate", "add a note describing the changes first", ErrNoNewNotes)
	}
	return nil
}

// CanRegenerate reports whether the regenerate action is enabled for d.
func CanRegenerate(d Draft, inFlight bool) bool {
	return RegenerationBlocker(d, inFlight) == nil
}

func invalid(operation, message string, reason error) error {
	return services.Wrap(services.ErrValidation, "draft", operation, message, reason)
}
