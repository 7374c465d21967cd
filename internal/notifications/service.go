package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lifestory/internal/config"
)

const userAgent = "lifestory/0.1.0"

// Event names a notification type.
type Event string

const (
	EventPipelineCompleted     Event = "pipeline_completed"
	EventPipelineFailed        Event = "pipeline_failed"
	EventDraftApproved         Event = "draft_approved"
	EventDraftRejected         Event = "draft_rejected"
	EventRegenerationCompleted Event = "regeneration_completed"
	EventRegenerationFailed    Event = "regeneration_failed"
	EventTest                  Event = "test"
)

// Payload carries the values rendered into a notification.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

type category int

const (
	categoryAlways category = iota
	categoryPipeline
	categoryDrafts
	categoryErrors
)

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[category]bool{
			categoryAlways:   true,
			categoryPipeline: cfg.Notifications.Pipeline,
			categoryDrafts:   cfg.Notifications.Drafts,
			categoryErrors:   cfg.Notifications.Errors,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[category]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	cat, msg, ok := render(event, payload)
	if !ok || !n.enabled[cat] {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (category, message, bool) {
	switch event {
	case EventPipelineCompleted:
		return categoryPipeline, message{
			title: "Life Story - Interview Processed",
			body:  fmt.Sprintf("✅ Draft ready for %s", subject(payload, "interview")),
			tags:  []string{"lifestory", "pipeline", "completed"},
		}, true
	case EventPipelineFailed:
		return categoryErrors, message{
			title:    "Life Story - Processing Failed",
			body:     fmt.Sprintf("❌ Processing failed for %s: %s", subject(payload, "interview"), text(payload, "error", "unknown error")),
			tags:     []string{"lifestory", "pipeline", "error"},
			priority: "high",
		}, true
	case EventDraftApproved:
		return categoryDrafts, message{
			title: "Life Story - Draft Approved",
			body:  fmt.Sprintf("📗 %s approved by %s", subject(payload, "draft"), text(payload, "actor", "an admin")),
			tags:  []string{"lifestory", "draft", "approved"},
		}, true
	case EventDraftRejected:
		body := fmt.Sprintf("📕 %s rejected by %s", subject(payload, "draft"), text(payload, "actor", "an admin"))
		if reason := text(payload, "reason", ""); reason != "" {
			body = fmt.Sprintf("%s\nReason: %s", body, reason)
		}
		return categoryDrafts, message{
			title: "Life Story - Draft Rejected",
			body:  body,
			tags:  []string{"lifestory", "draft", "rejected"},
		}, true
	case EventRegenerationCompleted:
		return categoryDrafts, message{
			title: "Life Story - Draft Regenerated",
			body:  fmt.Sprintf("🔁 New version of %s is ready", subject(payload, "draft")),
			tags:  []string{"lifestory", "draft", "regenerated"},
		}, true
	case EventRegenerationFailed:
		return categoryErrors, message{
			title:    "Life Story - Regeneration Failed",
			body:     fmt.Sprintf("❌ Regeneration failed for %s: %s", subject(payload, "draft"), text(payload, "error", "unknown error")),
			tags:     []string{"lifestory", "draft", "error"},
			priority: "high",
		}, true
	case EventTest:
		return categoryAlways, message{
			title:    "Life Story - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"lifestory", "test"},
			priority: "low",
		}, true
	default:
		return categoryAlways, message{}, false
	}
}

// subject prefers a display name, then the ID, e.g. "Rosa (interview iv-1)".
func subject(payload Payload, kind string) string {
	id := text(payload, "id", "")
	name := text(payload, "name", "")
	switch {
	case name != "" && id != "":
		return fmt.Sprintf("%s (%s %s)", name, kind, id)
	case name != "":
		return name
	case id != "":
		return kind + " " + id
	default:
		return kind
	}
}

func text(payload Payload, key, fallback string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return fallback
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
