package services

import "context"

type contextKey string

const (
	draftIDKey     contextKey = "draft_id"
	interviewIDKey contextKey = "interview_id"
	sessionIDKey   contextKey = "session_id"
	stageKey       contextKey = "stage"
	requestIDKey   contextKey = "request_id"
)

// WithDraftID annotates context with the draft identifier.
func WithDraftID(ctx context.Context, id string) context.Context {
	return withString(ctx, draftIDKey, id)
}

// DraftIDFromContext extracts the draft identifier if present.
func DraftIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, draftIDKey)
}

// WithInterviewID annotates context with the interview identifier.
func WithInterviewID(ctx context.Context, id string) context.Context {
	return withString(ctx, interviewIDKey, id)
}

// InterviewIDFromContext extracts the interview identifier if present.
func InterviewIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, interviewIDKey)
}

// WithSessionID annotates context with the owning session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, sessionIDKey)
}

// WithStage annotates context with a draft or pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
