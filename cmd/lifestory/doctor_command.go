package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/eventbus"
	"lifestory/internal/preflight"
	"lifestory/internal/services"
)

const doctorLabelWidth = 16

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the audit journal, the story API and the event channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			endpoints := preflight.Endpoints{API: client}
			if cfg.Events.URL != "" {
				endpoints.Events = eventbus.NewWebSocketTransport(cfg.Events.URL, cfg.API.Token,
					time.Duration(cfg.Events.HandshakeTimeout)*time.Second)
			}

			results := preflight.RunAll(cmd.Context(), cfg, endpoints)
			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				renderDoctor(cmd.OutOrStdout(), results, shouldColorize(cmd.OutOrStdout()))
			}
			if preflight.Failed(results) {
				return services.Wrap(services.ErrConfiguration, "cli", "doctor", "one or more checks failed", nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderDoctor(out io.Writer, results []preflight.Result, colorize bool) {
	for _, r := range results {
		label, color := "OK", ansiGreen
		switch {
		case r.Skipped:
			label, color = "SKIP", ansiDim
		case !r.Passed:
			label, color = "FAIL", ansiRed
		}
		line := fmt.Sprintf("  %-*s [%s] %s", doctorLabelWidth, r.Name+":", label, r.Detail)
		if colorize {
			line = color + line + ansiReset
		}
		fmt.Fprintln(out, line)
	}
}
