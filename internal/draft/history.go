package draft

import (
	"context"
	"strings"
	"time"
)

// HistoryEntry is one row of the draft audit trail.
type HistoryEntry struct {
	ID        string    `json:"id"`
	DraftID   string    `json:"draftId"`
	Action    Action    `json:"action"`
	FromStage Stage     `json:"fromStage,omitempty"`
	ToStage   Stage     `json:"toStage,omitempty"`
	Actor     Actor     `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Version   int       `json:"version"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryFilter narrows a history query. Zero values match everything.
type HistoryFilter struct {
	DraftID string
	Actions []Action
	Since   time.Time
	Until   time.Time
	// User matches the actor ID, email, or name case-insensitively.
	User   string
	Limit  int
	Offset int
}

// Matches reports whether entry satisfies the filter.
func (f HistoryFilter) Matches(entry HistoryEntry) bool {
	if f.DraftID != "" && entry.DraftID != f.DraftID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, action := range f.Actions {
			if entry.Action == action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && entry.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.CreatedAt.After(f.Until) {
		return false
	}
	if user := strings.TrimSpace(f.User); user != "" {
		if !strings.EqualFold(entry.Actor.ID, user) &&
			!strings.EqualFold(entry.Actor.Email, user) &&
			!strings.EqualFold(entry.Actor.Name, user) {
			return false
		}
	}
	return true
}

// Journal persists and queries audit history.
type Journal interface {
	Append(ctx context.Context, entry HistoryEntry) error
	Query(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
}
