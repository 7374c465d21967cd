package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lifestory/internal/draft"
)

const historyColumns = "id, draft_id, action, from_stage, to_stage, actor_id, actor_name, actor_email, actor_role, reason, version, request_id, created_at"

var _ draft.Journal = (*Journal)(nil)

// Append stores one history entry.
func (j *Journal) Append(ctx context.Context, entry draft.HistoryEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("history entry id is required")
	}
	if strings.TrimSpace(entry.DraftID) == "" {
		return errors.New("history entry draft id is required")
	}
	_, err := j.exec(ctx,
		`INSERT INTO draft_history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DraftID,
		string(entry.Action),
		nullable(string(entry.FromStage)),
		nullable(string(entry.ToStage)),
		nullable(entry.Actor.ID),
		nullable(entry.Actor.Name),
		nullable(entry.Actor.Email),
		nullable(entry.Actor.Role),
		nullable(entry.Reason),
		entry.Version,
		nullable(entry.RequestID),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Query returns history entries matching filter, oldest first.
func (j *Journal) Query(ctx context.Context, filter draft.HistoryFilter) ([]draft.HistoryEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.DraftID != "" {
		clauses = append(clauses, "draft_id = ?")
		args = append(args, filter.DraftID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, 0, len(filter.Actions))
		for _, action := range filter.Actions {
			placeholders = append(placeholders, "?")
			args = append(args, string(action))
		}
		clauses = append(clauses, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(filter.Until))
	}
	if user := strings.ToLower(strings.TrimSpace(filter.User)); user != "" {
		clauses = append(clauses, "(lower(actor_id) = ? OR lower(actor_email) = ? OR lower(actor_name) = ?)")
		args = append(args, user, user, user)
	}

	query := "SELECT " + historyColumns + " FROM draft_history"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	var entries []draft.HistoryEntry
	err := retryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, err := j.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			entry, err := scanHistory(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

func scanHistory(scanner interface{ Scan(dest ...any) error }) (draft.HistoryEntry, error) {
	var (
		entry      draft.HistoryEntry
		action     string
		fromStage  sql.NullString
		toStage    sql.NullString
		actorID    sql.NullString
		actorName  sql.NullString
		actorEmail sql.NullString
		actorRole  sql.NullString
		reason     sql.NullString
		requestID  sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.DraftID,
		&action,
		&fromStage,
		&toStage,
		&actorID,
		&actorName,
		&actorEmail,
		&actorRole,
		&reason,
		&entry.Version,
		&requestID,
		&createdRaw,
	); err != nil {
		return draft.HistoryEntry{}, err
	}
	entry.Action = draft.Action(action)
	entry.FromStage = draft.Stage(fromStage.String)
	entry.ToStage = draft.Stage(toStage.String)
	entry.Actor = draft.Actor{ID: actorID.String, Name: actorName.String, Email: actorEmail.String, Role: actorRole.String}
	entry.Reason = reason.String
	entry.RequestID = requestID.String
	entry.CreatedAt = parseTime(createdRaw)
	return entry, nil
}
