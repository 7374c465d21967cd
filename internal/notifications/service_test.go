package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lifestory/internal/config"
	"lifestory/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventPipelineCompleted, notifications.Payload{"id": "iv-1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "pipeline completed",
			event:         notifications.EventPipelineCompleted,
			payload:       notifications.Payload{"id": "iv-1", "name": "Childhood in Porto"},
			expectTitle:   "Life Story - Interview Processed",
			expectMessage: "✅ Draft ready for Childhood in Porto (interview iv-1)",
			expectTags:    "lifestory,pipeline,completed",
		},
		{
			name:           "pipeline failed",
			event:          notifications.EventPipelineFailed,
			payload:        notifications.Payload{"id": "iv-2", "error": errors.New("Transcription failed")},
			expectTitle:    "Life Story - Processing Failed",
			expectMessage:  "❌ Processing failed for interview iv-2: Transcription failed",
			expectTags:     "lifestory,pipeline,error",
			expectPriority: "high",
		},
		{
			name:          "draft approved",
			event:         notifications.EventDraftApproved,
			payload:       notifications.Payload{"id": "d1", "actor": "Ana"},
			expectTitle:   "Life Story - Draft Approved",
			expectMessage: "📗 draft d1 approved by Ana",
			expectTags:    "lifestory,draft,approved",
		},
		{
			name:          "draft rejected with reason",
			event:         notifications.EventDraftRejected,
			payload:       notifications.Payload{"id": "d1", "reason": "Missing concrete examples"},
			expectTitle:   "Life Story - Draft Rejected",
			expectMessage: "📕 draft d1 rejected by an admin\nReason: Missing concrete examples",
			expectTags:    "lifestory,draft,rejected",
		},
		{
			name:          "regeneration completed",
			event:         notifications.EventRegenerationCompleted,
			payload:       notifications.Payload{"id": "d2"},
			expectTitle:   "Life Story - Draft Regenerated",
			expectMessage: "🔁 New version of draft d2 is ready",
			expectTags:    "lifestory,draft,regenerated",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Life Story - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "lifestory,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursCategoryToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Pipeline = false
	cfg.Notifications.Drafts = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventPipelineCompleted,
		notifications.EventPipelineFailed,
		notifications.EventDraftApproved,
		notifications.EventRegenerationFailed,
		notifications.Event("unknown"),
	}
	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"id": "x"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic is read-only", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
