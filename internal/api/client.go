package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lifestory/internal/services"
)

// Client queries a running watcher.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the watcher listening on bind. bind may be a
// host:port pair or a full URL.
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// HistoryQuery filters a draft history request.
type HistoryQuery struct {
	Actions []string
	Since   time.Time
	Until   time.Time
	User    string
}

// Status returns the watcher status.
func (c *Client) Status(ctx context.Context) (*WatchStatus, error) {
	var out WatchStatus
	if err := c.call(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interviews lists followed interviews.
func (c *Client) Interviews(ctx context.Context) ([]InterviewView, error) {
	var out InterviewListResponse
	if err := c.call(ctx, http.MethodGet, "/api/interviews", nil, &out); err != nil {
		return nil, err
	}
	return out.Interviews, nil
}

// Interview returns one followed interview with its recent events.
func (c *Client) Interview(ctx context.Context, id string) (*InterviewResponse, error) {
	var out InterviewResponse
	if err := c.call(ctx, http.MethodGet, "/api/interviews/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Follow asks the watcher to start following id.
func (c *Client) Follow(ctx context.Context, id string) (*FollowResponse, error) {
	var out FollowResponse
	if err := c.call(ctx, http.MethodPost, "/api/interviews/"+url.PathEscape(id)+"/follow", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unfollow asks the watcher to stop following id.
func (c *Client) Unfollow(ctx context.Context, id string) (*FollowResponse, error) {
	var out FollowResponse
	if err := c.call(ctx, http.MethodDelete, "/api/interviews/"+url.PathEscape(id)+"/follow", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the recorded history of draftID.
func (c *Client) History(ctx context.Context, draftID string, q HistoryQuery) ([]HistoryEntry, error) {
	values := url.Values{}
	for _, action := range q.Actions {
		values.Add("action", action)
	}
	if !q.Since.IsZero() {
		values.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		values.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if q.User != "" {
		values.Set("user", q.User)
	}
	var out HistoryResponse
	if err := c.call(ctx, http.MethodGet, "/api/drafts/"+url.PathEscape(draftID)+"/history", values, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Logs fetches log events after since. follow blocks until one arrives.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, follow bool) (*LogStreamResponse, error) {
	values := url.Values{}
	values.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if follow {
		values.Set("follow", "1")
	}
	var out LogStreamResponse
	if err := c.call(ctx, http.MethodGet, "/api/logs", values, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("watch api: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "watch api", method+" "+path, "watcher unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("watch api: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var payload ErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		marker := services.ErrValidation
		switch {
		case resp.StatusCode == http.StatusNotFound:
			marker = services.ErrNotFound
		case resp.StatusCode >= 500:
			marker = services.ErrTransient
		}
		return services.Wrap(marker, "watch api", method+" "+path, fmt.Sprintf("status %d: %s", resp.StatusCode, msg), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("watch api: decode %s: %w", path, err)
	}
	return nil
}
