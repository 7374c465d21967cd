package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/audit"
	"lifestory/internal/draft"
	"lifestory/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var actions []string
	var since, until, user string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [draft-id]",
		Short: "Show the local audit history of draft decisions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := draft.HistoryFilter{User: strings.TrimSpace(user), Limit: limit}
			if len(args) == 1 {
				filter.DraftID = args[0]
			}
			for _, raw := range actions {
				for _, part := range strings.Split(raw, ",") {
					if strings.TrimSpace(part) == "" {
						continue
					}
					action, err := draft.ParseAction(part)
					if err != nil {
						return err
					}
					filter.Actions = append(filter.Actions, action)
				}
			}
			var err error
			if filter.Since, err = parseTimeFlag("since", since, false); err != nil {
				return err
			}
			if filter.Until, err = parseTimeFlag("until", until, true); err != nil {
				return err
			}

			var entries []draft.HistoryEntry
			err = ctx.withJournal(func(journal *audit.Journal) error {
				var qerr error
				entries, qerr = journal.Query(cmd.Context(), filter)
				return qerr
			})
			if err != nil {
				return fmt.Errorf("query history: %w", err)
			}
			if jsonOutput {
				if entries == nil {
					entries = []draft.HistoryEntry{}
				}
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					formatTime(entry.CreatedAt),
					entry.DraftID,
					string(entry.Action),
					stageChange(entry),
					valueOr(entry.Actor.DisplayName(), "-"),
					strconv.Itoa(entry.Version),
					valueOr(entry.Reason, ""),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "When"},
				{Header: "Draft"},
				{Header: "Action"},
				{Header: "Stage"},
				{Header: "Actor"},
				{Header: "Version", Align: alignRight},
				{Header: "Reason", MaxWidth: 48},
			}, rows))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&actions, "action", nil, "Only show these actions (send_to_review, submit_for_approval, approve, reject, add_note, regenerate)")
	cmd.Flags().StringVar(&since, "since", "", "Only show entries at or after this time (RFC3339 or YYYY-MM-DD, UTC)")
	cmd.Flags().StringVar(&until, "until", "", "Only show entries at or before this time (RFC3339 or YYYY-MM-DD, UTC)")
	cmd.Flags().StringVar(&user, "user", "", "Only show entries by this admin ID, email, or name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func stageChange(entry draft.HistoryEntry) string {
	switch {
	case entry.FromStage == "" && entry.ToStage == "":
		return "-"
	case entry.FromStage == entry.ToStage:
		return entry.ToStage.Label()
	default:
		return entry.FromStage.Label() + " -> " + entry.ToStage.Label()
	}
}

// parseTimeFlag accepts RFC3339 or a UTC date. With endOfDay, a bare date
// covers the whole day.
func parseTimeFlag(name, raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, services.Wrap(services.ErrValidation, "cli", "parse --"+name,
		fmt.Sprintf("invalid time %q (use RFC3339 or YYYY-MM-DD)", raw), nil)
}
