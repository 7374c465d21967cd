// Package preflight provides readiness checks for the services and
// local paths that lifestory depends on.
//
// The "lifestory doctor" command runs RunAll and renders each Result.
// Checks for optional features report Skipped instead of failing when the
// feature is not configured.
package preflight
