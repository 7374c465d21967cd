// Package config loads, normalizes, and validates lifestory configuration.
//
// Configuration lives in TOML (default ~/.config/lifestory/config.toml, or
// ./lifestory.toml). Secrets may also come from the environment or a local
// .env file; explicit config values win over the environment except for the
// LIFESTORY_API_URL and LIFESTORY_EVENTS_URL overrides, which exist for
// pointing a checked-in config at a staging backend.
package config
