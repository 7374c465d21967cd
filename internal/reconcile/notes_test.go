package reconcile

import (
	"testing"
	"time"

	"lifestory/internal/draft"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func note(id, author, content string, offset time.Duration) draft.Note {
	return draft.Note{ID: id, Author: author, Content: content, CreatedAt: t0.Add(offset)}
}

func ids(notes []draft.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergeNotes(t *testing.T) {
	n1 := note("n1", "ana", "first", 0)
	n2 := note("n2", "ana", "second", time.Minute)
	n3 := note("n3", "bob", "third", 2*time.Minute)
	tests := []struct {
		name   string
		local  []draft.Note
		server []draft.Note
		want   []string
	}{
		{name: "stale refresh keeps local", local: []draft.Note{n1}, server: nil, want: []string{"n1"}},
		{name: "union ordered by time", local: []draft.Note{n3}, server: []draft.Note{n2, n1}, want: []string{"n1", "n2", "n3"}},
		{name: "duplicates collapse", local: []draft.Note{n1, n2}, server: []draft.Note{n2, n1}, want: []string{"n1", "n2"}},
		{name: "empty", want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ids(MergeNotes(tc.local, tc.server)); !equalIDs(got, tc.want) {
				t.Fatalf("MergeNotes = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMergeNotesServerCopyWins(t *testing.T) {
	local := note("n1", "ana", "draft text", 0)
	server := note("n1", "ana", "saved text", 0)
	got := MergeNotes([]draft.Note{local}, []draft.Note{server})
	if len(got) != 1 || got[0].Content != "saved text" {
		t.Fatalf("merged = %+v", got)
	}
}

func TestMergeNotesSameTimestampOrdersByID(t *testing.T) {
	got := ids(MergeNotes([]draft.Note{note("b", "x", "1", 0)}, []draft.Note{note("a", "x", "2", 0)}))
	if !equalIDs(got, []string{"a", "b"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestNotebookKeepsNoteUntilServerConfirms(t *testing.T) {
	nb := NewNotebook()
	n1 := note("n1", "ana", "Ask about the farm", 0)
	nb.Added("d1", n1)
	nb.Added("d1", n1)

	if got := ids(nb.Reconcile("d1", nil)); !equalIDs(got, []string{"n1"}) {
		t.Fatalf("stale refresh = %v, want [n1]", got)
	}
	if len(nb.Pending("d1")) != 1 {
		t.Fatalf("pending = %v", nb.Pending("d1"))
	}

	confirmedCopy := n1
	confirmedCopy.Content = "Ask about the farm "
	got := nb.Reconcile("d1", []draft.Note{confirmedCopy})
	if len(got) != 1 || got[0].Content != confirmedCopy.Content {
		t.Fatalf("confirmed refresh = %+v", got)
	}
	if len(nb.Pending("d1")) != 0 {
		t.Fatal("confirmed note should leave the notebook")
	}
}

func TestNotebookMatchesServerAssignedID(t *testing.T) {
	nb := NewNotebook()
	nb.Added("d1", note("local-1", "ana", "Check the dates", 0))
	server := []draft.Note{note("srv-9", "ana", "Check the dates", time.Second)}
	got := nb.Reconcile("d1", server)
	if !equalIDs(ids(got), []string{"srv-9"}) {
		t.Fatalf("merged = %v, want only the server note", ids(got))
	}
}

func TestNotebookDiscard(t *testing.T) {
	nb := NewNotebook()
	nb.Added("d1", note("n1", "ana", "x", 0))
	nb.Discard("d1")
	if len(nb.Reconcile("d1", nil)) != 0 {
		t.Fatal("discarded notes resurfaced")
	}
}
