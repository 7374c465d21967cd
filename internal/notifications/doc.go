// Package notifications delivers pipeline and draft events via ntfy.
//
// NewService returns a no-op notifier when no topic is configured. Each event
// belongs to a category (pipeline, drafts, errors) that config.toml can switch
// off independently; suppressed events return nil without a request.
package notifications
