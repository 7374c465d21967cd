package services_test

import (
	"context"
	"testing"

	"lifestory/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithDraftID(ctx, "d-1")
	ctx = services.WithInterviewID(ctx, "i-7")
	ctx = services.WithSessionID(ctx, "s-3")
	ctx = services.WithStage(ctx, "under_review")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.DraftIDFromContext(ctx); !ok || id != "d-1" {
		t.Fatalf("unexpected draft id: %v %v", id, ok)
	}
	if id, ok := services.InterviewIDFromContext(ctx); !ok || id != "i-7" {
		t.Fatalf("unexpected interview id: %v %v", id, ok)
	}
	if id, ok := services.SessionIDFromContext(ctx); !ok || id != "s-3" {
		t.Fatalf("unexpected session id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "under_review" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithDraftID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.DraftIDFromContext(ctx); ok {
		t.Fatal("expected no draft value")
	}
}
