package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"lifestory/internal/config"
	"lifestory/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	api        *testsupport.FakeAPI
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"LIFESTORY_API_URL", "LIFESTORY_EVENTS_URL", "NTFY_TOPIC"} {
		t.Setenv(key, "")
	}

	fake := testsupport.NewFakeAPI(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithAPIBaseURL(fake.URL)}, opts...)...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, api: fake, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// seedDraft stores a draft generated at 2026-01-01 with one note added after it.
func seedDraft(env *cliTestEnv, id, stage string) {
	env.api.PutDraft(map[string]any{
		"id":        id,
		"sessionId": "s-1",
		"stage":     stage,
		"version":   1,
		"content": map[string]any{
			"sections": []any{
				map[string]any{"key": "childhood", "title": "Early Years", "body": "Rosa grew up by the sea."},
			},
			"toVerify": []any{map[string]any{"name": "Porto", "type": "place"}},
			"notes": []any{
				map[string]any{"id": "n-1", "author": "Editor", "content": "Add more about the war years", "createdAt": "2026-01-02T10:00:00Z"},
			},
			"metadata": map[string]any{"wordCount": 1200, "processedAt": "2026-01-01T10:00:00Z"},
		},
		"createdAt": "2026-01-01T09:00:00Z",
		"updatedAt": "2026-01-02T10:00:00Z",
	})
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
