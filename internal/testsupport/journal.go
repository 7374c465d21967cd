package testsupport

import (
	"testing"

	"lifestory/internal/audit"
	"lifestory/internal/config"
)

// MustOpenJournal opens the audit journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *audit.Journal {
	t.Helper()

	journal, err := audit.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() {
		journal.Close()
	})
	return journal
}
