package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/notifications"
	"lifestory/internal/reconcile"
	"lifestory/internal/services/storyapi"
)

func newDraftCommand(ctx *commandContext) *cobra.Command {
	draftCmd := &cobra.Command{
		Use:   "draft",
		Short: "Review and decide on story drafts",
	}

	draftCmd.AddCommand(newDraftListCommand(ctx))
	draftCmd.AddCommand(newDraftShowCommand(ctx))
	draftCmd.AddCommand(newDraftTransitionCommand(ctx, "review", "Send a first draft to review", draft.StageUnderReview))
	draftCmd.AddCommand(newDraftTransitionCommand(ctx, "submit", "Submit a reviewed draft for approval", draft.StagePendingApproval))
	draftCmd.AddCommand(newDraftApproveCommand(ctx))
	draftCmd.AddCommand(newDraftRejectCommand(ctx))
	draftCmd.AddCommand(newDraftNoteCommand(ctx))
	draftCmd.AddCommand(newDraftRegenerateCommand(ctx))

	return draftCmd
}

func newDraftListCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string
	var page, limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := storyapi.ListOptions{Page: page, Limit: limit, Filters: map[string]string{}}
			if strings.TrimSpace(stageFlag) != "" {
				stage, err := draft.ParseStage(stageFlag)
				if err != nil {
					return err
				}
				opts.Filters["stage"] = string(stage)
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			result, err := client.ListDrafts(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list drafts: %w", err)
			}
			for _, skipped := range result.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: skipped draft: %v\n", skipped)
			}
			if jsonOutput {
				return writeJSON(cmd, result.Drafts)
			}

			out := cmd.OutOrStdout()
			if len(result.Drafts) == 0 {
				fmt.Fprintln(out, "No drafts found")
				return nil
			}
			rows := make([][]string, 0, len(result.Drafts))
			for _, d := range result.Drafts {
				rows = append(rows, []string{
					d.ID,
					d.Stage.Label(),
					strconv.Itoa(d.Version),
					valueOr(d.SessionID, "-"),
					strconv.Itoa(d.Content.Metadata.WordCount),
					strconv.Itoa(len(d.Content.Notes)),
					formatTime(d.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "ID"},
				{Header: "Stage"},
				{Header: "Version", Align: alignRight},
				{Header: "Session"},
				{Header: "Words", Align: alignRight},
				{Header: "Notes", Align: alignRight},
				{Header: "Updated"},
			}, rows))
			fmt.Fprintf(out, "Showing %d of %d\n", len(result.Drafts), result.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only list drafts in this stage")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func newDraftShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			d, err := client.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get draft: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, d)
			}
			printDraft(cmd, *d)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func printDraft(cmd *cobra.Command, d draft.Draft) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Draft:       %s\n", d.ID)
	fmt.Fprintf(out, "Stage:       %s\n", d.Stage.Label())
	fmt.Fprintf(out, "Version:     %d\n", d.Version)
	fmt.Fprintf(out, "Session:     %s\n", valueOr(d.SessionID, "-"))
	fmt.Fprintf(out, "Interview:   %s\n", valueOr(d.InterviewID, "-"))
	fmt.Fprintf(out, "Words:       %d\n", d.Content.Metadata.WordCount)
	fmt.Fprintf(out, "Generated:   %s\n", formatTime(d.LastGeneratedAt()))
	if d.Approval != nil {
		fmt.Fprintf(out, "Approved:    by %s at %s\n", valueOr(d.Approval.By, "unknown"), formatTime(d.Approval.At))
	}
	if d.Rejection != nil {
		fmt.Fprintf(out, "Rejected:    by %s at %s\n", valueOr(d.Rejection.By, "unknown"), formatTime(d.Rejection.At))
		fmt.Fprintf(out, "Reason:      %s\n", valueOr(d.Rejection.Reason, "-"))
	}

	next := d.Stage.NextStages()
	labels := make([]string, 0, len(next))
	for _, stage := range next {
		labels = append(labels, stage.Label())
	}
	fmt.Fprintf(out, "Next:        %s\n", valueOr(strings.Join(labels, ", "), "none (finalized)"))
	fmt.Fprintf(out, "Regenerate:  %s\n", yesNo(draft.CanRegenerate(d, false)))

	if len(d.Content.Sections) > 0 {
		fmt.Fprintf(out, "\nSections (%d)\n", len(d.Content.Sections))
		for _, section := range d.Content.Sections {
			fmt.Fprintf(out, "  - %s\n", valueOr(section.Title, section.Key))
		}
	}
	if len(d.Content.ToVerify) > 0 {
		fmt.Fprintf(out, "\nTo verify (%d)\n", len(d.Content.ToVerify))
		for _, entity := range d.Content.ToVerify {
			if entity.Type != "" {
				fmt.Fprintf(out, "  - %s [%s]\n", entity.Name, entity.Type)
			} else {
				fmt.Fprintf(out, "  - %s\n", entity.Name)
			}
		}
	}
	if len(d.Content.Notes) > 0 {
		fmt.Fprintln(out)
		printNotes(out, d.Content.Notes)
	}
}

func printNotes(out io.Writer, notes []draft.Note) {
	fmt.Fprintf(out, "Notes (%d)\n", len(notes))
	for _, note := range notes {
		fmt.Fprintf(out, "  %s  %s: %s\n", formatTime(note.CreatedAt), valueOr(note.Author, "unknown"), note.Content)
	}
}

// transitionFunc issues one stage change through the draft service.
type transitionFunc func(context.Context, *draft.Service, draft.Draft, draft.Actor) (*draft.Draft, error)

func runTransition(cmd *cobra.Command, ctx *commandContext, draftID string, fn transitionFunc) (*draft.Draft, *draft.Draft, error) {
	var before, after *draft.Draft
	err := ctx.withDraftService(func(svc *draft.Service, client *storyapi.Client) error {
		current, err := client.GetDraft(cmd.Context(), draftID)
		if err != nil {
			return fmt.Errorf("get draft: %w", err)
		}
		updated, err := fn(cmd.Context(), svc, *current, ctx.admin())
		if err != nil {
			return err
		}
		before, after = current, updated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Draft %s: %s -> %s\n", after.ID, before.Stage.Label(), after.Stage.Label())
	return before, after, nil
}

func newDraftTransitionCommand(ctx *commandContext, use, short string, target draft.Stage) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <draft-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := runTransition(cmd, ctx, args[0], func(c context.Context, svc *draft.Service, d draft.Draft, admin draft.Actor) (*draft.Draft, error) {
				return svc.Transition(c, d, draft.TransitionRequest{Target: target, Admin: admin})
			})
			return err
		},
	}
}

func newDraftApproveCommand(ctx *commandContext) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "approve <draft-id>",
		Short: "Approve a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, after, err := runTransition(cmd, ctx, args[0], func(c context.Context, svc *draft.Service, d draft.Draft, admin draft.Actor) (*draft.Draft, error) {
				return svc.Approve(c, d, admin, notes)
			})
			if err != nil {
				return err
			}
			ctx.publish(cmd.Context(), notifications.EventDraftApproved, notifications.Payload{
				"id":    after.ID,
				"actor": ctx.admin().DisplayName(),
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Approval notes")
	return cmd
}

func newDraftRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <draft-id>",
		Short: "Reject a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, after, err := runTransition(cmd, ctx, args[0], func(c context.Context, svc *draft.Service, d draft.Draft, admin draft.Actor) (*draft.Draft, error) {
				return svc.Reject(c, d, admin, reason)
			})
			if err != nil {
				return err
			}
			ctx.publish(cmd.Context(), notifications.EventDraftRejected, notifications.Payload{
				"id":     after.ID,
				"actor":  ctx.admin().DisplayName(),
				"reason": strings.TrimSpace(reason),
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", fmt.Sprintf("Rejection reason (at least %d characters)", draft.MinRejectionReason))
	return cmd
}

func newDraftNoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "note <draft-id> <text>...",
		Short: "Add a note to a draft",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDraftService(func(svc *draft.Service, client *storyapi.Client) error {
				d, err := client.GetDraft(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get draft: %w", err)
				}
				note, err := svc.AddNote(cmd.Context(), *d, strings.Join(args[1:], " "), ctx.admin())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added note %s to draft %s\n", note.ID, d.ID)

				notebook := reconcile.NewNotebook()
				notebook.Added(d.ID, *note)
				server := d.Content.Notes
				if refreshed, err := client.GetDraft(cmd.Context(), d.ID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: refresh draft %s: %v\n", d.ID, err)
				} else {
					server = refreshed.Content.Notes
				}
				printNotes(out, notebook.Reconcile(d.ID, server))
				if pending := notebook.Pending(d.ID); len(pending) > 0 {
					fmt.Fprintf(out, "%d note(s) not yet returned by the server\n", len(pending))
				}
				return nil
			})
		},
	}
}

func newDraftRegenerateCommand(ctx *commandContext) *cobra.Command {
	var instructions string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "regenerate <draft-id>",
		Short: "Regenerate a draft from its new notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDraftService(func(svc *draft.Service, client *storyapi.Client) error {
				d, err := client.GetDraft(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get draft: %w", err)
				}
				out := cmd.OutOrStdout()
				if !wait {
					regen, err := svc.Regenerate(cmd.Context(), *d, instructions, ctx.admin(), false)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Regeneration requested for draft %s\n", d.ID)
					if regen.Draft != nil {
						fmt.Fprintf(out, "New draft %s (version %d)\n", regen.Draft.ID, regen.Draft.Version)
					}
					return nil
				}

				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				if timeout <= 0 {
					timeout = cfg.RegenerationTimeout()
				}
				completion, err := awaitRegeneration(cmd.Context(), ctx, svc, client, *d, instructions, timeout)
				if err != nil {
					if errors.Is(err, reconcile.ErrGenerationFailed) {
						return fmt.Errorf("regenerate draft %s: %w", d.ID, err)
					}
					return err
				}
				newID := valueOr(completion.NewDraftID, d.ID)
				fmt.Fprintf(out, "Regeneration of draft %s finished: new draft %s (matched by %s)\n", d.ID, newID, completion.MatchedBy)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&instructions, "instructions", "", "Extra instructions for the writer")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the new version to be generated")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the completion event before polling (default from config)")
	return cmd
}

// awaitRegeneration issues the regeneration and waits for its completion
// event. Without an event channel the gate settles from a single poll after
// timeout.
func awaitRegeneration(c context.Context, ctx *commandContext, svc *draft.Service, client *storyapi.Client, d draft.Draft, instructions string, timeout time.Duration) (reconcile.Completion, error) {
	logger := ctx.logger()
	gate := reconcile.NewGate(client, timeout, logger)

	if bus := ctx.newBus(logger); bus != nil {
		bus.OnDraftEvent(func(evt eventbus.DraftEvent) {
			gate.Observe(evt)
		})
		if err := bus.Connect(c); err != nil {
			logging.WarnWithContext(logger, "event channel unavailable", "eventbus_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check events.url and the API token"),
				logging.String(logging.FieldImpact, "regeneration result taken from a poll after the timeout"),
			)
		}
		defer bus.Close()
	}

	return gate.Run(c, svc, d, instructions, ctx.admin())
}

// publish sends a notification; failures only warn.
func (c *commandContext) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := c.notifier().Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(c.logger(), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "no push notification sent"),
		)
	}
}
