package draft_test

import (
	"errors"
	"testing"

	"lifestory/internal/draft"
	"lifestory/internal/services"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		raw     string
		want    draft.Stage
		wantErr error
	}{
		{"first_draft", draft.StageFirstDraft, nil},
		{" Under_Review ", draft.StageUnderReview, nil},
		{"pending_approval", draft.StagePendingApproval, nil},
		{"approved", draft.StageApproved, nil},
		{"rejected", draft.StageRejected, nil},
		{"pending_review", "", draft.ErrLegacyStage},
		{"in_progress", "", draft.ErrLegacyStage},
		{"published", "", draft.ErrUnknownStage},
		{"", "", draft.ErrUnknownStage},
	}
	for _, tc := range tests {
		got, err := draft.ParseStage(tc.raw)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseStage(%q) error = %v, want %v", tc.raw, err, tc.wantErr)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("ParseStage(%q) should be a validation error, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseStage(%q) failed: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseStage(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]draft.Stage]bool{
		{draft.StageFirstDraft, draft.StageUnderReview}:      true,
		{draft.StageUnderReview, draft.StagePendingApproval}: true,
		{draft.StageUnderReview, draft.StageApproved}:        true,
		{draft.StageUnderReview, draft.StageRejected}:        true,
		{draft.StagePendingApproval, draft.StageApproved}:    true,
		{draft.StagePendingApproval, draft.StageRejected}:    true,
	}
	for _, from := range draft.AllStages() {
		for _, to := range draft.AllStages() {
			want := allowed[[2]draft.Stage{from, to}]
			if got := draft.CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStagesHaveNoSuccessors(t *testing.T) {
	for _, stage := range []draft.Stage{draft.StageApproved, draft.StageRejected} {
		if !stage.IsTerminal() {
			t.Fatalf("expected %s to be terminal", stage)
		}
		if next := stage.NextStages(); len(next) != 0 {
			t.Fatalf("expected no successors for %s, got %v", stage, next)
		}
	}
	if draft.StagePendingApproval.IsTerminal() {
		t.Fatal("pending_approval must not be terminal")
	}
}

func TestStageLabel(t *testing.T) {
	if got := draft.StagePendingApproval.Label(); got != "Pending Approval" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := draft.StageFirstDraft.Label(); got != "First Draft" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestActionFor(t *testing.T) {
	tests := map[draft.Stage]draft.Action{
		draft.StageUnderReview:     draft.ActionSendToReview,
		draft.StagePendingApproval: draft.ActionSubmitForApproval,
		draft.StageApproved:        draft.ActionApprove,
		draft.StageRejected:        draft.ActionReject,
		draft.StageFirstDraft:      "",
	}
	for stage, want := range tests {
		if got := draft.ActionFor(stage); got != want {
			t.Fatalf("ActionFor(%s) = %q, want %q", stage, got, want)
		}
	}
	if _, err := draft.ParseAction("approve"); err != nil {
		t.Fatalf("ParseAction failed: %v", err)
	}
	if _, err := draft.ParseAction("publish"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
