package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InterviewEvent is a pipeline status update observed on the event channel.
type InterviewEvent struct {
	ID           int64     `json:"id"`
	InterviewID  string    `json:"interviewId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// DraftEvent is a draft generation lifecycle event observed on the event channel.
type DraftEvent struct {
	ID             int64     `json:"id"`
	Kind           string    `json:"kind"`
	DraftID        string    `json:"draftId,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	IsRegeneration bool      `json:"isRegeneration"`
	Message        string    `json:"message,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// RecordInterviewEvent appends a pipeline status update.
func (j *Journal) RecordInterviewEvent(ctx context.Context, evt InterviewEvent) error {
	if strings.TrimSpace(evt.InterviewID) == "" {
		return errors.New("interview event requires an interview id")
	}
	_, err := j.exec(ctx,
		`INSERT INTO interview_events (interview_id, status, error_message, received_at) VALUES (?, ?, ?, ?)`,
		evt.InterviewID, evt.Status, nullable(evt.ErrorMessage), formatTime(evt.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert interview event: %w", err)
	}
	return nil
}

// InterviewEvents returns the most recent limit events for interviewID, oldest first.
func (j *Journal) InterviewEvents(ctx context.Context, interviewID string, limit int) ([]InterviewEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []InterviewEvent
	err := retryOnBusy(ctx, func() error {
		events = events[:0]
		rows, err := j.db.QueryContext(ctx,
			`SELECT id, interview_id, status, error_message, received_at FROM (
				SELECT * FROM interview_events WHERE interview_id = ? ORDER BY id DESC LIMIT ?
			) ORDER BY id ASC`,
			interviewID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				evt      InterviewEvent
				errMsg   sql.NullString
				received string
			)
			if err := rows.Scan(&evt.ID, &evt.InterviewID, &evt.Status, &errMsg, &received); err != nil {
				return err
			}
			evt.ErrorMessage = errMsg.String
			evt.ReceivedAt = parseTime(received)
			events = append(events, evt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query interview events: %w", err)
	}
	return events, nil
}

// RecordDraftEvent appends a draft generation event.
func (j *Journal) RecordDraftEvent(ctx context.Context, evt DraftEvent) error {
	if strings.TrimSpace(evt.Kind) == "" {
		return errors.New("draft event requires a kind")
	}
	regeneration := 0
	if evt.IsRegeneration {
		regeneration = 1
	}
	_, err := j.exec(ctx,
		`INSERT INTO draft_events (kind, draft_id, session_id, is_regeneration, message, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		evt.Kind, nullable(evt.DraftID), nullable(evt.SessionID), regeneration, nullable(evt.Message), formatTime(evt.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert draft event: %w", err)
	}
	return nil
}

// DraftEvents returns recorded events for draftID, oldest first. An empty
// draftID returns events across all drafts.
func (j *Journal) DraftEvents(ctx context.Context, draftID string, limit int) ([]DraftEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, draft_id, session_id, is_regeneration, message, received_at FROM (
		SELECT * FROM draft_events ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	args := []any{limit}
	if draftID != "" {
		query = `SELECT id, kind, draft_id, session_id, is_regeneration, message, received_at FROM (
			SELECT * FROM draft_events WHERE draft_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = []any{draftID, limit}
	}

	var events []DraftEvent
	err := retryOnBusy(ctx, func() error {
		events = events[:0]
		rows, err := j.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				evt          DraftEvent
				id           sql.NullString
				session      sql.NullString
				message      sql.NullString
				regeneration int
				received     string
			)
			if err := rows.Scan(&evt.ID, &evt.Kind, &id, &session, &regeneration, &message, &received); err != nil {
				return err
			}
			evt.DraftID = id.String
			evt.SessionID = session.String
			evt.IsRegeneration = regeneration != 0
			evt.Message = message.String
			evt.ReceivedAt = parseTime(received)
			events = append(events, evt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query draft events: %w", err)
	}
	return events, nil
}
