package watch_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"lifestory/internal/api"
	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/services"
	"lifestory/internal/testsupport"
)

func TestAPIStatusAndInterviews(t *testing.T) {
	h := newHarness(t)
	conn := h.start(t)
	client := api.NewClient(h.watcher.APIAddr(), "")
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || !status.Bus.Connected || len(status.Following) != 1 || status.LockFilePath != h.cfg.WatchLockPath() {
		t.Fatalf("status = %+v", status)
	}

	conn.Push(t, eventbus.EventStatusUpdate, map[string]any{"interviewId": "iv-1", "status": "transcribing"})
	testsupport.Eventually(t, time.Second, func() bool {
		views, err := client.Interviews(ctx)
		return err == nil && len(views) == 1 && views[0].Stage == "transcribing"
	}, "interview view reflects transcribing")

	detail, err := client.Interview(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Interview: %v", err)
	}
	if len(detail.Interview.Steps) != 4 {
		t.Fatalf("steps = %+v", detail.Interview.Steps)
	}
	testsupport.Eventually(t, time.Second, func() bool {
		detail, err := client.Interview(ctx, "iv-1")
		return err == nil && len(detail.Events) == 1
	}, "status event listed")

	if _, err := client.Interview(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing interview err = %v", err)
	}
}

func TestAPIFollowRoutes(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	client := api.NewClient("http://"+h.watcher.APIAddr(), "")
	ctx := context.Background()

	resp, err := client.Follow(ctx, "iv-5")
	if err != nil || !resp.Changed || !resp.Following {
		t.Fatalf("Follow = %+v, %v", resp, err)
	}
	resp, err = client.Follow(ctx, "iv-5")
	if err != nil || resp.Changed {
		t.Fatalf("repeat Follow = %+v, %v", resp, err)
	}
	if _, err := client.Unfollow(ctx, "iv-5"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if _, err := client.Unfollow(ctx, "iv-5"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("repeat Unfollow err = %v", err)
	}
}

func TestAPIHistoryFilters(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []draft.HistoryEntry{
		{ID: "h1", DraftID: "d1", Action: draft.ActionSendToReview, FromStage: draft.StageFirstDraft, ToStage: draft.StageUnderReview, Actor: draft.Actor{Email: "ana@example.com"}, Version: 1, CreatedAt: base},
		{ID: "h2", DraftID: "d1", Action: draft.ActionReject, FromStage: draft.StageUnderReview, ToStage: draft.StageRejected, Actor: draft.Actor{Email: "bo@example.com"}, Reason: "Missing concrete examples", Version: 1, CreatedAt: base.Add(time.Hour)},
		{ID: "h3", DraftID: "d2", Action: draft.ActionApprove, Actor: draft.Actor{Email: "ana@example.com"}, Version: 1, CreatedAt: base},
	}
	for _, entry := range entries {
		if err := h.journal.Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	client := api.NewClient(h.watcher.APIAddr(), "")

	all, err := client.History(ctx, "d1", api.HistoryQuery{})
	if err != nil || len(all) != 2 {
		t.Fatalf("History = %+v, %v", all, err)
	}
	rejected, err := client.History(ctx, "d1", api.HistoryQuery{Actions: []string{"reject"}})
	if err != nil || len(rejected) != 1 || rejected[0].Reason != "Missing concrete examples" {
		t.Fatalf("reject history = %+v, %v", rejected, err)
	}
	byUser, err := client.History(ctx, "d1", api.HistoryQuery{User: "ANA@example.com"})
	if err != nil || len(byUser) != 1 || byUser[0].ID != "h1" {
		t.Fatalf("user history = %+v, %v", byUser, err)
	}
	since, err := client.History(ctx, "d1", api.HistoryQuery{Since: base.Add(30 * time.Minute)})
	if err != nil || len(since) != 1 || since[0].ID != "h2" {
		t.Fatalf("since history = %+v, %v", since, err)
	}
	if _, err := client.History(ctx, "d1", api.HistoryQuery{Actions: []string{"publish"}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad action err = %v", err)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, testsupport.WithWatchToken("s3cret"))
	h.start(t)
	ctx := context.Background()

	if _, err := api.NewClient(h.watcher.APIAddr(), "").Status(ctx); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing token err = %v", err)
	}
	if _, err := api.NewClient(h.watcher.APIAddr(), "wrong").Status(ctx); err == nil {
		t.Fatal("expected wrong token to fail")
	}
	if _, err := api.NewClient(h.watcher.APIAddr(), "s3cret").Status(ctx); err != nil {
		t.Fatalf("Status with token: %v", err)
	}
}

func TestAPICORSPreflight(t *testing.T) {
	h := newHarness(t, testsupport.WithAllowedOrigins("http://localhost:5173"), testsupport.WithWatchToken("s3cret"))
	h.start(t)

	req, err := http.NewRequest(http.MethodOptions, "http://"+h.watcher.APIAddr()+"/api/status", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAPILogsTail(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	hub := h.watcher.LogStream()
	hub.Publish(loggingEvent("watch", "iv-1", "following interview"))
	hub.Publish(loggingEvent("tracker", "iv-2", "pipeline stage changed"))

	client := api.NewClient(h.watcher.APIAddr(), "")
	page, err := client.Logs(context.Background(), 0, 10, false)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(page.Events) != 2 || page.Next != 2 {
		t.Fatalf("logs = %+v", page)
	}
	page, err = client.Logs(context.Background(), 1, 10, false)
	if err != nil || len(page.Events) != 1 || page.Events[0].InterviewID != "iv-2" {
		t.Fatalf("logs since 1 = %+v, %v", page, err)
	}
}
