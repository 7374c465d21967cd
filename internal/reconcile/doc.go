// Package reconcile merges locally issued draft actions with server state.
//
// Notes are reconciled by ID: a refresh never hides a note the admin just
// added, and the server copy wins once it has one. Regenerations are tracked
// by a Gate that only settles on a terminal draft event or, after the
// configured timeout, on a single REST poll.
package reconcile
