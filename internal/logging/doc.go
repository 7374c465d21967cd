// Package logging assembles structured slog loggers used across lifestory.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context helpers that tag lines with draft, interview, and session IDs. The
// StreamHub keeps a bounded ring of recent records so the watcher can serve
// them over its status API.
package logging
