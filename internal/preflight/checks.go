package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"lifestory/internal/audit"
	"lifestory/internal/config"
	"lifestory/internal/eventbus"
	"lifestory/internal/services/storyapi"
)

const (
	apiCheckTimeout    = 10 * time.Second
	eventsCheckTimeout = 10 * time.Second
)

// DraftLister is the slice of the story API client used to check reachability.
type DraftLister interface {
	ListDrafts(ctx context.Context, opts storyapi.ListOptions) (*storyapi.DraftPage, error)
}

// CheckAPI verifies that the story API is reachable and accepts the token.
// It issues a single one-item draft listing.
func CheckAPI(ctx context.Context, baseURL string, lister DraftLister) Result {
	const name = "Story API"

	if strings.TrimSpace(baseURL) == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, apiCheckTimeout)
	defer cancel()

	page, err := lister.ListDrafts(checkCtx, storyapi.ListOptions{Page: 1, Limit: 1})
	if err != nil {
		return Result{Name: name, Detail: summarizeAPIError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, %d drafts)", baseURL, page.Total)}
}

// CheckEvents verifies that the push channel accepts a connection.
func CheckEvents(ctx context.Context, url string, transport eventbus.Transport) Result {
	const name = "Event channel"

	checkCtx, cancel := context.WithTimeout(ctx, eventsCheckTimeout)
	defer cancel()

	conn, err := transport.Dial(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (dial failed: %s)", url, summarizeNetError(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (connected)", url)}
}

// CheckJournal verifies that the audit journal opens with the current schema.
func CheckJournal(name, path string) Result {
	journal, err := audit.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	_ = journal.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (ok)", path)}
}

// CheckNotifications reports the ntfy configuration without sending anything.
func CheckNotifications(cfg *config.Config) Result {
	const name = "Notifications"

	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Skipped: true, Detail: "Disabled"}
	}
	var kinds []string
	if cfg.Notifications.Pipeline {
		kinds = append(kinds, "pipeline")
	}
	if cfg.Notifications.Drafts {
		kinds = append(kinds, "drafts")
	}
	if cfg.Notifications.Errors {
		kinds = append(kinds, "errors")
	}
	if len(kinds) == 0 {
		return Result{Name: name, Passed: true, Skipped: true, Detail: fmt.Sprintf("%s (all event kinds off)", topic)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", topic, strings.Join(kinds, ", "))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeAPIError(err error) string {
	var apiErr *storyapi.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth failed (check api.token)"
		default:
			return fmt.Sprintf("request failed (%d)", apiErr.Status)
		}
	}
	return summarizeNetError(err)
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
