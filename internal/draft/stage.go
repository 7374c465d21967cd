package draft

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lifestory/internal/services"
)

// Stage is the position of a draft in its approval lifecycle.
type Stage string

const (
	StageFirstDraft      Stage = "first_draft"
	StageUnderReview     Stage = "under_review"
	StagePendingApproval Stage = "pending_approval"
	StageApproved        Stage = "approved"
	StageRejected        Stage = "rejected"
)

var orderedStages = []Stage{
	StageFirstDraft,
	StageUnderReview,
	StagePendingApproval,
	StageApproved,
	StageRejected,
}

// legacyStages appear in an older transition table served by some backends.
// They are reported, not translated.
var legacyStages = map[string]struct{}{
	"in_progress":    {},
	"pending_review": {},
}

var transitions = map[Stage][]Stage{
	StageFirstDraft:      {StageUnderReview},
	StageUnderReview:     {StagePendingApproval, StageApproved, StageRejected},
	StagePendingApproval: {StageApproved, StageRejected},
}

// AllStages returns the canonical stages in lifecycle order.
func AllStages() []Stage {
	return append([]Stage(nil), orderedStages...)
}

// ParseStage converts a raw value to a canonical Stage. Legacy values fail
// with ErrLegacyStage, anything else unknown with ErrUnknownStage.
func ParseStage(raw string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for _, stage := range orderedStages {
		if string(stage) == normalized {
			return stage, nil
		}
	}
	if _, ok := legacyStages[normalized]; ok {
		return "", services.Wrap(services.ErrValidation, "draft", "parse stage",
			fmt.Sprintf("stage %q belongs to the legacy vocabulary", raw), ErrLegacyStage)
	}
	return "", services.Wrap(services.ErrValidation, "draft", "parse stage",
		fmt.Sprintf("stage %q", raw), ErrUnknownStage)
}

// Valid reports whether s is a canonical stage.
func (s Stage) Valid() bool {
	for _, stage := range orderedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further stage transitions are allowed.
func (s Stage) IsTerminal() bool {
	return s == StageApproved || s == StageRejected
}

// Label renders the stage for people, e.g. "Pending Approval".
func (s Stage) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// NextStages lists the stages reachable from s in one transition.
func (s Stage) NextStages() []Stage {
	return append([]Stage(nil), transitions[s]...)
}

// CanTransition reports whether the transition table contains from -> to.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action names an admin operation recorded in the audit history.
type Action string

const (
	ActionSendToReview      Action = "send_to_review"
	ActionSubmitForApproval Action = "submit_for_approval"
	ActionApprove           Action = "approve"
	ActionReject            Action = "reject"
	ActionAddNote           Action = "add_note"
	ActionRegenerate        Action = "regenerate"
)

// ParseAction accepts an action name as stored in history filters.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ActionSendToReview, ActionSubmitForApproval, ActionApprove, ActionReject, ActionAddNote, ActionRegenerate:
		return action, nil
	}
	return "", services.Wrap(services.ErrValidation, "draft", "parse action", fmt.Sprintf("unknown action %q", raw), nil)
}

// ActionFor names the stage transition action that moves a draft into target.
func ActionFor(target Stage) Action {
	switch target {
	case StageUnderReview:
		return ActionSendToReview
	case StagePendingApproval:
		return ActionSubmitForApproval
	case StageApproved:
		return ActionApprove
	case StageRejected:
		return ActionReject
	default:
		return ""
	}
}
