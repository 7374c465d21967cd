package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/interview"
	"lifestory/internal/tracker"
)

const progressInterval = 250 * time.Millisecond

func newInterviewCommand(ctx *commandContext) *cobra.Command {
	interviewCmd := &cobra.Command{
		Use:   "interview",
		Short: "Upload and inspect interviews",
	}

	interviewCmd.AddCommand(newInterviewUploadCommand(ctx))
	interviewCmd.AddCommand(newInterviewShowCommand(ctx))
	interviewCmd.AddCommand(newSessionShowCommand(ctx))

	return interviewCmd
}

func newInterviewUploadCommand(ctx *commandContext) *cobra.Command {
	var syncUpload bool
	var sessionID, clientName string

	cmd := &cobra.Command{
		Use:   "upload <interview-id> <file>",
		Short: "Upload a recording and follow it through processing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			file, err := tracker.FileFromPath(args[1])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			logger := ctx.logger()

			var t *tracker.Tracker
			if syncUpload {
				t = tracker.New(nil, client, client, tracker.OptionsFromConfig(cfg, tracker.ModeSync, logger))
			} else {
				bus, err := ctx.requireBus(logger, "upload")
				if err != nil {
					return fmt.Errorf("%w; use --sync to upload without live status", err)
				}
				if err := bus.Connect(cmd.Context()); err != nil {
					return fmt.Errorf("connect event channel: %w", err)
				}
				defer bus.Close()
				t = tracker.New(bus, client, client, tracker.OptionsFromConfig(cfg, tracker.ModeAsync, logger))
			}
			defer t.Close()

			results, err := t.Start(cmd.Context(), args[0], file, tracker.SessionContext{SessionID: sessionID, ClientName: clientName})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploading %s (%d bytes) to interview %s\n", file.Name, file.Size, args[0])
			return reportUpload(cmd, t, results)
		},
	}

	cmd.Flags().BoolVar(&syncUpload, "sync", false, "Wait for the upload response instead of live status events")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session that owns the interview; refreshed after processing")
	cmd.Flags().StringVar(&clientName, "client", "", "Client name shown in notifications and logs")
	return cmd
}

// reportUpload prints a line per stage change until the run settles.
func reportUpload(cmd *cobra.Command, t *tracker.Tracker, results <-chan tracker.Result) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last tracker.Stage
	printStage := func(snap tracker.Snapshot) {
		if snap.Stage == last || snap.Stage == tracker.StageIdle {
			return
		}
		last = snap.Stage
		fmt.Fprintf(out, "  %-18s %s\n", snap.Stage, renderSteps(snap.Steps, colorize))
	}

	for {
		select {
		case <-ticker.C:
			printStage(t.Snapshot())
		case result, ok := <-results:
			if !ok {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				return errors.New("upload tracking ended without a result")
			}
			printStage(tracker.Snapshot{Stage: result.Stage, Steps: tracker.StageViews(result.Stage, last)})
			if !result.Succeeded() {
				if result.Err != nil {
					return fmt.Errorf("interview %s: %w", result.InterviewID, result.Err)
				}
				return fmt.Errorf("interview %s: %s", result.InterviewID, valueOr(result.Message, "processing failed"))
			}
			fmt.Fprintf(out, "Interview %s processed\n", result.InterviewID)
			if result.Interview != nil && result.Interview.Content.AIDraftID != "" {
				fmt.Fprintf(out, "Draft: %s\n", result.Interview.Content.AIDraftID)
			}
			return nil
		}
	}
}

func newInterviewShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <interview-id>",
		Short: "Show an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			iv, err := client.GetInterview(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get interview: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, iv)
			}
			printInterview(cmd, *iv)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func printInterview(cmd *cobra.Command, iv interview.Interview) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Interview:     %s\n", iv.ID)
	fmt.Fprintf(out, "Title:         %s\n", iv.DisplayName())
	fmt.Fprintf(out, "Session:       %s\n", valueOr(iv.SessionID, "-"))
	fmt.Fprintf(out, "Status:        %s\n", valueOr(iv.Status, "unknown"))
	if iv.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:         %s\n", iv.ErrorMessage)
	}
	if upload := iv.Content.FileUpload; upload != nil {
		fmt.Fprintf(out, "File:          %s (%d bytes)\n", upload.FileName, upload.FileSize)
	}
	fmt.Fprintf(out, "Transcribed:   %s\n", yesNo(iv.Content.Transcription != ""))
	fmt.Fprintf(out, "Draft:         %s\n", valueOr(iv.Content.AIDraftID, "-"))
	fmt.Fprintf(out, "Finished:      %s\n", yesNo(iv.Finished()))
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a session and its interview progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			session, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, session)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:     %s\n", session.ID)
			fmt.Fprintf(out, "Client:      %s\n", valueOr(session.ClientName, "-"))
			fmt.Fprintf(out, "Progress:    %d/%d interviews (%.0f%%)\n",
				session.CompletedInterviews, session.TotalInterviews, session.CompletionPercentage)
			fmt.Fprintf(out, "Duration:    %d\n", session.TotalDuration)
			if len(session.Interviews) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(session.Interviews))
			for _, iv := range session.Interviews {
				rows = append(rows, []string{iv.ID, iv.DisplayName(), valueOr(iv.Status, "-"), yesNo(iv.Finished())})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "Interview"},
				{Header: "Title", MaxWidth: 40},
				{Header: "Status"},
				{Header: "Finished"},
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
