package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"lifestory/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "storyapi", "transition", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"storyapi", "transition", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		userFacing bool
		retryable  bool
	}{
		{"validation", services.Wrap(services.ErrValidation, "draft", "reject", "reason too short", nil), true, false},
		{"not found", fmt.Errorf("lookup: %w", services.ErrNotFound), true, false},
		{"transient", services.Wrap(services.ErrTransient, "storyapi", "get", "503", nil), false, true},
		{"timeout", services.Wrap(services.ErrTimeout, "tracker", "wait", "no event", nil), false, true},
		{"nil", nil, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsUserFacing(tc.err); got != tc.userFacing {
				t.Fatalf("IsUserFacing = %v, want %v", got, tc.userFacing)
			}
			if got := services.Retryable(tc.err); got != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}
