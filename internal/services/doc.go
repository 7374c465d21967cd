// Package services defines shared utilities consumed by the draft workflow,
// the upload tracker, and the external API client.
//
// Key responsibilities:
//   - Context helpers that stamp draft, interview, and session IDs plus
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can branch on
//     local validation failures versus retryable transport failures.
//
// The storyapi subpackage holds the REST client for the life-story admin API.
package services
