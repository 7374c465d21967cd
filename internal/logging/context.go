package logging

import (
	"context"
	"log/slog"

	"lifestory/internal/services"
)

// Structured field keys shared by every handler and the stream hub.
const (
	FieldComponent     = "component"
	FieldDraftID       = "draft_id"
	FieldInterviewID   = "interview_id"
	FieldSessionID     = "session_id"
	FieldStage         = "stage"
	FieldCorrelationID = "correlation_id"
	FieldError         = "error"
	// FieldEventType classifies a log line for filtering (e.g. "draft_transition").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

var contextFields = []struct {
	key    string
	lookup func(context.Context) (string, bool)
}{
	{FieldDraftID, services.DraftIDFromContext},
	{FieldInterviewID, services.InterviewIDFromContext},
	{FieldSessionID, services.SessionIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the identifiers carried by ctx as log attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	for _, f := range contextFields {
		if value, ok := f.lookup(ctx); ok {
			fields = append(fields, slog.String(f.key, value))
		}
	}
	return fields
}

// WithContext returns logger tagged with the identifiers carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(fields))
}
