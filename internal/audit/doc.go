// Package audit persists the local draft history and the push events the
// watcher observes in a SQLite journal.
//
// The journal implements draft.Journal. History is queryable by draft ID with
// filters on action type, date range, and user. The schema is versioned; a
// mismatch is reported instead of migrated because the journal only holds
// operator-side records that can be rebuilt.
package audit
