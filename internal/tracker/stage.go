package tracker

import "strings"

// Stage is the tracker's current pipeline position.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageUploading       Stage = "uploading"
	StageTranscribing    Stage = "transcribing"
	StageGeneratingDraft Stage = "generating_draft"
	StageCompleted       Stage = "completed"
	StageError           Stage = "error"
)

var pipeline = []Stage{StageUploading, StageTranscribing, StageGeneratingDraft, StageCompleted}

// Pipeline returns the ordered stages of a successful run.
func Pipeline() []Stage {
	return append([]Stage(nil), pipeline...)
}

// ParseStage maps a server status onto a Stage. Unknown statuses report false.
func ParseStage(raw string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uploading":
		return StageUploading, true
	case "transcribing":
		return StageTranscribing, true
	case "generating_draft", "generating-draft", "generating":
		return StageGeneratingDraft, true
	case "completed", "complete":
		return StageCompleted, true
	case "error", "failed":
		return StageError, true
	default:
		return "", false
	}
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// index orders pipeline stages; idle sorts first and error has no position.
func (s Stage) index() int {
	if s == StageIdle {
		return 0
	}
	for i, p := range pipeline {
		if p == s {
			return i + 1
		}
	}
	return -1
}

// StepState is how one pipeline step renders.
type StepState string

const (
	StepPending   StepState = "pending"
	StepActive    StepState = "active"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// StageView pairs a pipeline stage with its render state.
type StageView struct {
	Stage Stage     `json:"stage"`
	State StepState `json:"state"`
}

// StageViews derives per-step states from the current stage. failedAt is the
// stage that was active when an error arrived and is ignored otherwise.
func StageViews(current, failedAt Stage) []StageView {
	views := make([]StageView, len(pipeline))
	cur := current.index()
	if current == StageError {
		cur = failedAt.index()
		if cur < 1 {
			cur = 1
		}
	}
	for i, p := range pipeline {
		pos := i + 1
		state := StepPending
		switch {
		case current == StageCompleted:
			state = StepCompleted
		case pos < cur:
			state = StepCompleted
		case pos == cur && current == StageError:
			state = StepFailed
		case pos == cur:
			state = StepActive
		}
		views[i] = StageView{Stage: p, State: state}
	}
	return views
}
