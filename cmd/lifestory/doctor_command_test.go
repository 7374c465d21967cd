package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"lifestory/internal/preflight"
	"lifestory/internal/services"
)

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Data directory:")
	requireContains(t, out, "Audit journal:")
	requireContains(t, out, "Story API:")
	requireContains(t, out, "[SKIP] Disabled (async uploads and live tracking unavailable)")
}

func TestDoctorFailsOnRejectedToken(t *testing.T) {
	env := setupCLITestEnv(t)
	env.api.Fail(http.MethodGet, "/drafts", http.StatusUnauthorized, "bad token")

	out, _, err := env.run(t, "doctor")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	requireContains(t, out, "[FAIL] auth failed")
}

func TestDoctorJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "doctor", "--json")
	if err != nil {
		t.Fatalf("doctor --json: %v", err)
	}
	var results []preflight.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode doctor output: %v\n%s", err, out)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
}
