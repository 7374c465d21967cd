package testsupport

import (
	"path/filepath"
	"testing"

	"lifestory/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Tracker delays are zeroed so tests do not sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.API.BaseURL = "http://127.0.0.1:1"
	cfgVal.API.Token = "test-token"
	cfgVal.Events.URL = ""
	cfgVal.Admin = config.Admin{ID: "admin-1", Name: "Test Admin", Email: "admin@example.com", Role: "admin"}
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Upload.CompleteDelayMS = 0
	cfgVal.Upload.ErrorDelayMS = 0
	cfgVal.Watch.APIBind = "127.0.0.1:0"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIBaseURL points the REST client at url (typically an httptest server).
func WithAPIBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseURL = url
	}
}

// WithEventsURL points the event channel at url.
func WithEventsURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Events.URL = url
	}
}

// WithNtfyTopic enables notifications against topic.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithWatchToken requires token on the watcher's local API.
func WithWatchToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.APIToken = token
	}
}

// WithAllowedOrigins enables CORS on the watcher's local API.
func WithAllowedOrigins(origins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.AllowedOrigins = origins
	}
}
