// Package watch runs the long-lived watcher process.
//
// A Watcher holds a single-instance flock, keeps the event bus connected,
// follows a set of interviews with follow-mode trackers, and records every
// status and draft generation event in the audit journal. Terminal pipeline
// outcomes and regeneration results are published through the notifications
// service. An optional local HTTP API exposes status, followed interviews,
// draft history, and the live log stream.
package watch
