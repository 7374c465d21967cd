package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"lifestory/internal/tracker"
)

const displayTimeFormat = "2006-01-02 15:04"

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(displayTimeFormat)
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderSteps draws the pipeline as one line, e.g. "✓ uploading  ● transcribing  ○ generating_draft  ○ completed".
func renderSteps(steps []tracker.StageView, colorize bool) string {
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		var marker, color string
		switch step.State {
		case tracker.StepCompleted:
			marker, color = "✓", ansiGreen
		case tracker.StepActive:
			marker, color = "●", ansiYellow
		case tracker.StepFailed:
			marker, color = "✗", ansiRed
		default:
			marker, color = "○", ansiDim
		}
		part := fmt.Sprintf("%s %s", marker, step.Stage)
		if colorize {
			part = color + part + ansiReset
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "  ")
}
