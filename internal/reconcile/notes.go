package reconcile

import (
	"sort"
	"strings"
	"sync"

	"lifestory/internal/draft"
)

// MergeNotes returns the union of local and server notes de-duplicated by ID.
// The server copy wins on conflict. Output is ordered by creation time, then ID.
func MergeNotes(local, server []draft.Note) []draft.Note {
	byID := make(map[string]draft.Note, len(local)+len(server))
	var anonymous []draft.Note
	for _, n := range local {
		if n.ID == "" {
			anonymous = append(anonymous, n)
			continue
		}
		byID[n.ID] = n
	}
	for _, n := range server {
		if n.ID == "" {
			anonymous = append(anonymous, n)
			continue
		}
		byID[n.ID] = n
	}
	out := make([]draft.Note, 0, len(byID)+len(anonymous))
	for _, n := range byID {
		out = append(out, n)
	}
	out = append(out, anonymous...)
	sortNotes(out)
	return out
}

func sortNotes(notes []draft.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Notebook holds notes added locally until a server refresh includes them.
type Notebook struct {
	mu      sync.Mutex
	pending map[string][]draft.Note
}

// NewNotebook returns an empty notebook.
func NewNotebook() *Notebook {
	return &Notebook{pending: make(map[string][]draft.Note)}
}

// Added records a note the admin just created on draftID.
func (n *Notebook) Added(draftID string, note draft.Note) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.pending[draftID] {
		if existing.ID == note.ID {
			return
		}
	}
	n.pending[draftID] = append(n.pending[draftID], note)
}

// Reconcile merges server notes for draftID with still-pending local notes.
// A pending note is confirmed, and dropped from the notebook, once the server
// returns its ID or an identical author and content.
func (n *Notebook) Reconcile(draftID string, server []draft.Note) []draft.Note {
	n.mu.Lock()
	pending := n.pending[draftID]
	var still []draft.Note
	for _, local := range pending {
		if !confirmed(local, server) {
			still = append(still, local)
		}
	}
	if len(still) == 0 {
		delete(n.pending, draftID)
	} else {
		n.pending[draftID] = still
	}
	n.mu.Unlock()
	return MergeNotes(still, server)
}

// Pending returns the unconfirmed local notes for draftID.
func (n *Notebook) Pending(draftID string) []draft.Note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]draft.Note(nil), n.pending[draftID]...)
}

// Discard forgets every pending note for draftID.
func (n *Notebook) Discard(draftID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pending, draftID)
}

func confirmed(local draft.Note, server []draft.Note) bool {
	body := strings.TrimSpace(local.Content)
	for _, s := range server {
		if local.ID != "" && s.ID == local.ID {
			return true
		}
		if s.Author == local.Author && strings.TrimSpace(s.Content) == body {
			return true
		}
	}
	return false
}
