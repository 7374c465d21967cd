// Package tracker follows one interview through the upload and processing
// pipeline.
//
// A Tracker validates the selected file locally, issues the upload, and then
// advances only on status events delivered by the event bus. Stage changes
// are monotonic: stale events are dropped and error is reachable from any
// non-terminal stage. Completion refreshes the owning session, holds the
// result for a display delay, and resets. When no terminal event arrives
// within the tracking timeout the tracker polls the REST API once and settles
// on what it finds.
package tracker
