package api

import "time"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WatchStatus reports watcher runtime information.
type WatchStatus struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	StartedAt    string    `json:"startedAt,omitempty"`
	LockFilePath string    `json:"lockFilePath"`
	JournalPath  string    `json:"journalPath,omitempty"`
	Bus          BusStatus `json:"bus"`
	Following    []string  `json:"following"`
	DraftEvents  int64     `json:"draftEvents"`
}

// BusStatus summarizes the push channel.
type BusStatus struct {
	Connected  bool     `json:"connected"`
	Reconnects int      `json:"reconnects"`
	Rooms      []string `json:"rooms"`
}

// StageStep is one pipeline step of an interview.
type StageStep struct {
	Stage string `json:"stage"`
	State string `json:"state"`
}

// ResultView is the last terminal outcome observed for an interview.
type ResultView struct {
	Stage     string `json:"stage"`
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
	At        string `json:"at,omitempty"`
}

// InterviewView is the tracked state of one followed interview.
type InterviewView struct {
	InterviewID  string      `json:"interviewId"`
	SessionID    string      `json:"sessionId,omitempty"`
	Stage        string      `json:"stage"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Steps        []StageStep `json:"steps"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
	Runs         int         `json:"runs"`
	LastResult   *ResultView `json:"lastResult,omitempty"`
}

// InterviewListResponse wraps the followed interviews.
type InterviewListResponse struct {
	Interviews []InterviewView `json:"interviews"`
}

// InterviewEvent is a recorded status update.
type InterviewEvent struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ReceivedAt   string `json:"receivedAt"`
}

// InterviewResponse is one interview with its recent status events.
type InterviewResponse struct {
	Interview InterviewView    `json:"interview"`
	Events    []InterviewEvent `json:"events"`
}

// FollowResponse acknowledges a follow or unfollow request.
type FollowResponse struct {
	InterviewID string `json:"interviewId"`
	Following   bool   `json:"following"`
	Changed     bool   `json:"changed"`
}

// HistoryEntry is one audit row of a draft.
type HistoryEntry struct {
	ID         string `json:"id"`
	DraftID    string `json:"draftId"`
	Action     string `json:"action"`
	FromStage  string `json:"fromStage,omitempty"`
	ToStage    string `json:"toStage,omitempty"`
	Actor      string `json:"actor,omitempty"`
	ActorEmail string `json:"actorEmail,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Version    int    `json:"version"`
	RequestID  string `json:"requestId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// HistoryResponse wraps the history of a draft.
type HistoryResponse struct {
	DraftID string         `json:"draftId"`
	Entries []HistoryEntry `json:"entries"`
}

// LogEvent is a structured log line for live tailing.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	DraftID       string            `json:"draft_id,omitempty"`
	InterviewID   string            `json:"interview_id,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is a page of log events and the cursor for the next one.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
