// Package main hosts the lifestory admin CLI.
//
// Draft commands drive the review lifecycle against the admin REST API and
// record each decision in the local audit journal. Interview commands upload
// recordings and follow them through the processing pipeline. The watch
// command runs in the foreground, follows interviews over the event channel,
// and serves a small local status API that the watch subcommands query.
//
// Commands stay thin: validation, transitions, tracking, and reconciliation
// live in the internal packages.
package main
