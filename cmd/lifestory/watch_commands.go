package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/api"
	"lifestory/internal/audit"
	"lifestory/internal/logging"
	"lifestory/internal/logs"
	"lifestory/internal/services/storyapi"
	"lifestory/internal/watch"
)

const (
	watchLogFile  = "watch.log"
	logFollowWait = 5 * time.Second
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [interview-id...]",
		Short: "Follow interviews and draft events in the foreground",
		Long: "Follow the configured interviews (watch.interviews) plus any given on the command line,\n" +
			"record their status events and draft events in the local journal, and serve a status API\n" +
			"on watch.api_bind until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, ctx, args)
		},
	}

	watchCmd.AddCommand(newWatchStatusCommand(ctx))
	watchCmd.AddCommand(newWatchFollowCommand(ctx, true))
	watchCmd.AddCommand(newWatchFollowCommand(ctx, false))
	watchCmd.AddCommand(newWatchInterviewsCommand(ctx))
	watchCmd.AddCommand(newWatchLogsCommand(ctx))

	return watchCmd
}

func runWatch(cmd *cobra.Command, ctx *commandContext, args []string) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hub := logging.NewStreamHub(cfg.Watch.LogBuffer)
	logger, err := logging.NewFromConfig(cfg, watchLogFile, hub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	bus, err := ctx.requireBus(logger, "watch")
	if err != nil {
		return err
	}
	journal, err := audit.Open(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	w, err := watch.New(cfg, watch.Options{
		Bus:     bus,
		API:     storyapi.NewFromConfig(cfg, storyapi.WithLogger(logger)),
		Journal: journal,
		LogHub:  hub,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(signalCtx, args...); err != nil {
		return err
	}
	defer w.Stop()

	out := cmd.OutOrStdout()
	following := w.Following()
	fmt.Fprintf(out, "Watching %d interview(s): %s\n", len(following), valueOr(strings.Join(following, ", "), "none yet"))
	fmt.Fprintf(out, "Status API: %s\n", valueOr(w.APIAddr(), "disabled"))

	<-signalCtx.Done()
	logger.Info("watcher shutting down", logging.String(logging.FieldEventType, "watch_stopping"))
	return nil
}

func newWatchStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running watcher's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.watchClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return watchUnavailable(err)
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running:       %s\n", yesNo(status.Running))
			fmt.Fprintf(out, "PID:           %d\n", status.PID)
			fmt.Fprintf(out, "Started:       %s\n", valueOr(status.StartedAt, "-"))
			fmt.Fprintf(out, "Connected:     %s\n", yesNo(status.Bus.Connected))
			fmt.Fprintf(out, "Reconnects:    %d\n", status.Bus.Reconnects)
			fmt.Fprintf(out, "Following:     %s\n", valueOr(strings.Join(status.Following, ", "), "none"))
			fmt.Fprintf(out, "Draft events:  %d\n", status.DraftEvents)
			fmt.Fprintf(out, "Journal:       %s\n", valueOr(status.JournalPath, "-"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func newWatchFollowCommand(ctx *commandContext, follow bool) *cobra.Command {
	use, short := "follow", "Start following an interview"
	if !follow {
		use, short = "unfollow", "Stop following an interview"
	}
	return &cobra.Command{
		Use:   use + " <interview-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.watchClient()
			if err != nil {
				return err
			}
			var resp *api.FollowResponse
			if follow {
				resp, err = client.Follow(cmd.Context(), args[0])
			} else {
				resp, err = client.Unfollow(cmd.Context(), args[0])
			}
			if err != nil {
				return watchUnavailable(err)
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.Following && resp.Changed:
				fmt.Fprintf(out, "Following interview %s\n", resp.InterviewID)
			case resp.Following:
				fmt.Fprintf(out, "Already following interview %s\n", resp.InterviewID)
			case resp.Changed:
				fmt.Fprintf(out, "Stopped following interview %s\n", resp.InterviewID)
			default:
				fmt.Fprintf(out, "Interview %s was not being followed\n", resp.InterviewID)
			}
			return nil
		},
	}
}

func newWatchInterviewsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "interviews",
		Short: "List interviews followed by the running watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.watchClient()
			if err != nil {
				return err
			}
			views, err := client.Interviews(cmd.Context())
			if err != nil {
				return watchUnavailable(err)
			}
			if jsonOutput {
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No interviews followed")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				last := "-"
				if view.LastResult != nil {
					last = view.LastResult.Stage
					if view.LastResult.Message != "" {
						last += ": " + view.LastResult.Message
					}
				}
				rows = append(rows, []string{view.InterviewID, view.Stage, strconv.Itoa(view.Runs), last})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "Interview"},
				{Header: "Stage"},
				{Header: "Runs", Align: alignRight},
				{Header: "Last result", MaxWidth: 48},
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func newWatchLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var fromFile bool
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the running watcher's recent log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			if follow {
				var cancel context.CancelFunc
				runCtx, cancel = signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
			}
			out := cmd.OutOrStdout()

			if fromFile {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				return tailLogFile(runCtx, out, filepath.Join(cfg.Paths.LogDir, watchLogFile), limit, follow)
			}

			client, err := ctx.watchClient()
			if err != nil {
				return err
			}
			var cursor uint64
			wait := false
			for {
				resp, err := client.Logs(runCtx, cursor, limit, wait)
				if err != nil {
					if follow && runCtx.Err() != nil {
						return nil
					}
					return watchUnavailable(err)
				}
				for _, evt := range resp.Events {
					fmt.Fprintln(out, formatLogEvent(evt))
				}
				if resp.Next > cursor {
					cursor = resp.Next
				}
				if !follow {
					return nil
				}
				wait = true
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new events")
	cmd.Flags().BoolVar(&fromFile, "file", false, "Read the watcher log file instead of the status API")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events per request")
	return cmd
}

func tailLogFile(ctx context.Context, out io.Writer, path string, limit int, follow bool) error {
	tail := logs.Open(path)
	lines, err := tail.Last(limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	for follow {
		lines, err := tail.Next(ctx, logFollowWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(valueOr(evt.Level, "info")))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteString(" " + evt.Message)
	if evt.InterviewID != "" {
		b.WriteString(" interview=" + evt.InterviewID)
	}
	if evt.DraftID != "" {
		b.WriteString(" draft=" + evt.DraftID)
	}
	return b.String()
}

func watchUnavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("query watcher: %w (is `lifestory watch` running?)", err)
}
