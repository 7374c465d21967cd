// Package api defines the wire types of the watcher's local HTTP API and a
// client for it.
//
// DTOs use camelCase JSON tags and RFC3339 timestamps with milliseconds.
// Converters translate tracker snapshots, audit rows, and log hub events so
// the CLI and other consumers render them without importing internal models.
package api
