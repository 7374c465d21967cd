package audit_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"lifestory/internal/audit"
	"lifestory/internal/draft"
	"lifestory/internal/testsupport"
)

var (
	ana = draft.Actor{ID: "u-1", Name: "Ana", Email: "ana@example.com", Role: "admin"}
	bob = draft.Actor{ID: "u-2", Name: "Bob", Email: "bob@example.com", Role: "editor"}
)

func seedHistory(t *testing.T, journal *audit.Journal) time.Time {
	t.Helper()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	entries := []draft.HistoryEntry{
		{ID: "h1", DraftID: "d1", Action: draft.ActionSendToReview, FromStage: draft.StageFirstDraft, ToStage: draft.StageUnderReview, Actor: ana, CreatedAt: base},
		{ID: "h2", DraftID: "d1", Action: draft.ActionAddNote, FromStage: draft.StageUnderReview, ToStage: draft.StageUnderReview, Actor: bob, Reason: "more detail", CreatedAt: base.Add(time.Hour)},
		{ID: "h3", DraftID: "d1", Action: draft.ActionReject, FromStage: draft.StageUnderReview, ToStage: draft.StageRejected, Actor: ana, Reason: "Missing concrete examples", Version: 1, RequestID: "req-9", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "h4", DraftID: "d2", Action: draft.ActionApprove, FromStage: draft.StagePendingApproval, ToStage: draft.StageApproved, Actor: bob, CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, entry := range entries {
		if err := journal.Append(context.Background(), entry); err != nil {
			t.Fatalf("Append %s failed: %v", entry.ID, err)
		}
	}
	return base
}

func ids(entries []draft.HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ID)
	}
	return out
}

func TestHistoryRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	base := seedHistory(t, journal)

	entries, err := journal.Query(context.Background(), draft.HistoryFilter{DraftID: "d1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got := ids(entries); len(got) != 3 || got[0] != "h1" || got[2] != "h3" {
		t.Fatalf("unexpected entries: %v", got)
	}
	rejected := entries[2]
	if rejected.Action != draft.ActionReject || rejected.ToStage != draft.StageRejected {
		t.Fatalf("unexpected action fields: %+v", rejected)
	}
	if rejected.Actor != ana || rejected.Reason != "Missing concrete examples" || rejected.RequestID != "req-9" || rejected.Version != 1 {
		t.Fatalf("unexpected entry fields: %+v", rejected)
	}
	if !rejected.CreatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected timestamp: %v", rejected.CreatedAt)
	}
}

func TestHistoryFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	base := seedHistory(t, journal)

	tests := []struct {
		name   string
		filter draft.HistoryFilter
		want   []string
	}{
		{"all", draft.HistoryFilter{}, []string{"h1", "h2", "h3", "h4"}},
		{"action", draft.HistoryFilter{Actions: []draft.Action{draft.ActionReject, draft.ActionApprove}}, []string{"h3", "h4"}},
		{"since", draft.HistoryFilter{Since: base.Add(90 * time.Minute)}, []string{"h3", "h4"}},
		{"until", draft.HistoryFilter{Until: base.Add(time.Hour)}, []string{"h1", "h2"}},
		{"user id", draft.HistoryFilter{User: "u-2"}, []string{"h2", "h4"}},
		{"user email", draft.HistoryFilter{User: "ANA@example.com"}, []string{"h1", "h3"}},
		{"combined", draft.HistoryFilter{DraftID: "d1", User: "ana", Actions: []draft.Action{draft.ActionReject}}, []string{"h3"}},
		{"paged", draft.HistoryFilter{Limit: 2, Offset: 1}, []string{"h2", "h3"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := journal.Query(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			got := ids(entries)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
			for _, entry := range entries {
				if !tc.filter.Matches(entry) {
					t.Fatalf("SQL filter returned %s which Matches rejects", entry.ID)
				}
			}
		})
	}
}

func TestAppendValidatesEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)

	if err := journal.Append(context.Background(), draft.HistoryEntry{DraftID: "d1"}); err == nil {
		t.Fatal("expected error without id")
	}
	if err := journal.Append(context.Background(), draft.HistoryEntry{ID: "x"}); err == nil {
		t.Fatal("expected error without draft id")
	}
	entry := draft.HistoryEntry{ID: "dup", DraftID: "d1", Action: draft.ActionAddNote}
	if err := journal.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := journal.Append(context.Background(), entry); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestInterviewEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	for _, status := range []string{"uploading", "transcribing", "error"} {
		evt := audit.InterviewEvent{InterviewID: "i1", Status: status}
		if status == "error" {
			evt.ErrorMessage = "transcription failed"
		}
		if err := journal.RecordInterviewEvent(ctx, evt); err != nil {
			t.Fatalf("RecordInterviewEvent failed: %v", err)
		}
	}
	if err := journal.RecordInterviewEvent(ctx, audit.InterviewEvent{InterviewID: "i2", Status: "uploading"}); err != nil {
		t.Fatalf("RecordInterviewEvent failed: %v", err)
	}
	if err := journal.RecordInterviewEvent(ctx, audit.InterviewEvent{Status: "uploading"}); err == nil {
		t.Fatal("expected error without interview id")
	}

	events, err := journal.InterviewEvents(ctx, "i1", 2)
	if err != nil {
		t.Fatalf("InterviewEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Status != "transcribing" || events[1].Status != "error" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].ErrorMessage != "transcription failed" || events[1].ReceivedAt.IsZero() {
		t.Fatalf("unexpected error event: %+v", events[1])
	}
}

func TestDraftEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	records := []audit.DraftEvent{
		{Kind: "draft-regeneration-started", DraftID: "d1"},
		{Kind: "draft-generation-complete", DraftID: "d1-v2", SessionID: "s1", IsRegeneration: true},
		{Kind: "draft-generation-complete", DraftID: "d9", SessionID: "s2"},
	}
	for _, rec := range records {
		if err := journal.RecordDraftEvent(ctx, rec); err != nil {
			t.Fatalf("RecordDraftEvent failed: %v", err)
		}
	}

	all, err := journal.DraftEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("DraftEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	scoped, err := journal.DraftEvents(ctx, "d1-v2", 10)
	if err != nil {
		t.Fatalf("DraftEvents failed: %v", err)
	}
	if len(scoped) != 1 || !scoped[0].IsRegeneration || scoped[0].SessionID != "s1" {
		t.Fatalf("unexpected scoped events: %+v", scoped)
	}
}

func TestOpenDetectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	journal.Close()

	db, err := sql.Open("sqlite", cfg.JournalPath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := audit.Open(cfg.JournalPath()); !errors.Is(err, audit.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
