package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire event names.
const (
	EventJoinInterview       = "join-interview"
	EventLeaveInterview      = "leave-interview"
	EventStatusUpdate        = "interview-status-update"
	EventRegenerationStarted = "draft-regeneration-started"
	EventGenerationComplete  = "draft-generation-complete"
	EventGenerationFailed    = "draft-generation-failed"
)

// Message is the JSON envelope exchanged with the server.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes payload into an envelope for event.
func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

type roomPayload struct {
	InterviewID string `json:"interviewId"`
}

// StatusEvent is an interview pipeline status update.
type StatusEvent struct {
	InterviewID  string
	Status       string
	ErrorMessage string
	// Raw keeps the original payload for subscribers that need extra fields.
	Raw json.RawMessage
}

// DraftEvent is a draft generation lifecycle event.
type DraftEvent struct {
	Kind           string
	DraftID        string
	SessionID      string
	IsRegeneration bool
	ErrorMessage   string
	// Draft is the generated draft payload when the server includes it.
	Draft json.RawMessage
}

// Terminal reports whether e ends a generation (complete or failed).
func (e DraftEvent) Terminal() bool {
	return e.Kind == EventGenerationComplete || e.Kind == EventGenerationFailed
}

// wireStatus accepts both casings the backend has used for these fields.
type wireStatus struct {
	InterviewID      string `json:"interviewId"`
	InterviewIDSnake string `json:"interview_id"`
	Status           string `json:"status"`
	ErrorSnake       string `json:"error_message"`
	ErrorCamel       string `json:"errorMessage"`
	Error            string `json:"error"`
}

func decodeStatus(data json.RawMessage) (StatusEvent, error) {
	var wire wireStatus
	if err := json.Unmarshal(data, &wire); err != nil {
		return StatusEvent{}, fmt.Errorf("decode status update: %w", err)
	}
	evt := StatusEvent{
		InterviewID:  firstNonEmpty(wire.InterviewID, wire.InterviewIDSnake),
		Status:       strings.ToLower(strings.TrimSpace(wire.Status)),
		ErrorMessage: firstNonEmpty(wire.ErrorSnake, wire.ErrorCamel, wire.Error),
		Raw:          data,
	}
	if evt.InterviewID == "" {
		return StatusEvent{}, fmt.Errorf("decode status update: missing interviewId")
	}
	return evt, nil
}

type wireDraft struct {
	DraftID        string          `json:"draftId"`
	DraftIDSnake   string          `json:"draft_id"`
	SessionID      string          `json:"sessionId"`
	SessionIDSnake string          `json:"session_id"`
	IsRegeneration bool            `json:"isRegeneration"`
	Error          string          `json:"error"`
	ErrorMessage   string          `json:"error_message"`
	Draft          json.RawMessage `json:"draft"`
}

func decodeDraft(kind string, data json.RawMessage) (DraftEvent, error) {
	var wire wireDraft
	if len(data) > 0 {
		if err := json.Unmarshal(data, &wire); err != nil {
			return DraftEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	evt := DraftEvent{
		Kind:           kind,
		DraftID:        firstNonEmpty(wire.DraftID, wire.DraftIDSnake),
		SessionID:      firstNonEmpty(wire.SessionID, wire.SessionIDSnake),
		IsRegeneration: wire.IsRegeneration || kind == EventRegenerationStarted,
		ErrorMessage:   firstNonEmpty(wire.Error, wire.ErrorMessage),
	}
	if len(wire.Draft) > 0 && string(wire.Draft) != "null" {
		evt.Draft = wire.Draft
	}
	if evt.DraftID == "" && evt.SessionID == "" {
		return DraftEvent{}, fmt.Errorf("decode %s: missing draftId and sessionId", kind)
	}
	return evt, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
