// Package draft implements the approval workflow for AI-generated life-story
// drafts.
//
// Stage is the single canonical enum; ParseStage refuses the legacy
// in_progress/pending_review vocabulary rather than mapping it. The
// transition table, rejection-reason guard, and regeneration eligibility rules
// are pure functions so callers can check them before any network call.
// Service layers those guards over an API and a Journal: it never changes a
// stage locally, it waits for the server to confirm and records the outcome in
// the audit history.
package draft
