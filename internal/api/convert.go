package api

import (
	"time"

	"lifestory/internal/audit"
	"lifestory/internal/draft"
	"lifestory/internal/logging"
	"lifestory/internal/tracker"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromSnapshot converts a tracker snapshot.
func FromSnapshot(snap tracker.Snapshot) InterviewView {
	view := InterviewView{
		InterviewID:  snap.InterviewID,
		SessionID:    snap.SessionID,
		Stage:        string(snap.Stage),
		ErrorMessage: snap.ErrorMessage,
		UpdatedAt:    formatTime(snap.UpdatedAt),
		Steps:        make([]StageStep, 0, len(snap.Steps)),
	}
	for _, step := range snap.Steps {
		view.Steps = append(view.Steps, StageStep{Stage: string(step.Stage), State: string(step.State)})
	}
	return view
}

// FromResult converts a tracker result observed at at.
func FromResult(result tracker.Result, at time.Time) *ResultView {
	return &ResultView{
		Stage:     string(result.Stage),
		Succeeded: result.Succeeded(),
		Message:   result.Message,
		At:        formatTime(at),
	}
}

// FromInterviewEvents converts recorded status events.
func FromInterviewEvents(events []audit.InterviewEvent) []InterviewEvent {
	out := make([]InterviewEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, InterviewEvent{
			ID:           evt.ID,
			Status:       evt.Status,
			ErrorMessage: evt.ErrorMessage,
			ReceivedAt:   formatTime(evt.ReceivedAt),
		})
	}
	return out
}

// FromHistory converts draft history entries.
func FromHistory(entries []draft.HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, HistoryEntry{
			ID:         entry.ID,
			DraftID:    entry.DraftID,
			Action:     string(entry.Action),
			FromStage:  string(entry.FromStage),
			ToStage:    string(entry.ToStage),
			Actor:      entry.Actor.DisplayName(),
			ActorEmail: entry.Actor.Email,
			Reason:     entry.Reason,
			Version:    entry.Version,
			RequestID:  entry.RequestID,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	return out
}

// FromLogEvents converts hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:      evt.Sequence,
			Timestamp:     evt.Timestamp,
			Level:         evt.Level,
			Message:       evt.Message,
			Component:     evt.Component,
			DraftID:       evt.DraftID,
			InterviewID:   evt.InterviewID,
			Stage:         evt.Stage,
			CorrelationID: evt.CorrelationID,
			Fields:        evt.Fields,
		})
	}
	return out
}
