package preflight

import (
	"context"

	"lifestory/internal/config"
	"lifestory/internal/eventbus"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail"`
}

// Endpoints carries the remote endpoints RunAll exercises. A nil field skips
// the matching check.
type Endpoints struct {
	API    DraftLister
	Events eventbus.Transport
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, endpoints Endpoints) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckJournal("Audit journal", cfg.JournalPath()),
	}

	if endpoints.API != nil {
		results = append(results, CheckAPI(ctx, cfg.API.BaseURL, endpoints.API))
	}

	switch {
	case cfg.Events.URL == "":
		results = append(results, Result{Name: "Event channel", Passed: true, Skipped: true,
			Detail: "Disabled (async uploads and live tracking unavailable)"})
	case endpoints.Events != nil:
		results = append(results, CheckEvents(ctx, cfg.Events.URL, endpoints.Events))
	}

	results = append(results, CheckNotifications(cfg))
	return results
}

// Failed reports whether any non-skipped check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Skipped {
			return true
		}
	}
	return false
}
