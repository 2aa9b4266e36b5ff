package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"livestreamdvr/internal/capture"
	"livestreamdvr/internal/inbox"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/textutil"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

func newVODsCommand(ctx *commandContext) *cobra.Command {
	var (
		channel string
		active  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "vods",
		Short: "List recorded VODs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *vod.Store) error {
				var (
					vods []*vod.VOD
					err  error
				)
				switch {
				case active:
					vods, err = store.ListActive(commandCtx(cmd))
				case channel != "":
					vods, err = store.ListByChannel(commandCtx(cmd), channel)
				default:
					vods, err = store.List(commandCtx(cmd))
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, vods)
				}
				out := cmd.OutOrStdout()
				if len(vods) == 0 {
					fmt.Fprintln(out, "No VODs")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(vods))
				for _, v := range vods {
					rows = append(rows, []string{
						v.UUID,
						v.ChannelID,
						string(v.Provider()),
						stateLabel(v, colorize),
						formatStarted(v.StartedAt),
						formatDuration(v.Duration),
						textutil.FormatBytes(v.TotalSize()),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"UUID", "Channel", "Provider", "State", "Started", "Duration", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Only VODs of this channel")
	cmd.Flags().BoolVar(&active, "active", false, "Only VODs still capturing or converting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newVODCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vod",
		Short: "Inspect or act on a single VOD",
	}
	cmd.AddCommand(newVODShowCommand(ctx))
	cmd.AddCommand(newVODRetryCommand(ctx))
	return cmd
}

func newVODShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a VOD with its segments and chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *vod.Store) error {
				v, err := store.Get(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, v)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "VOD        %s\n", v.UUID)
				fmt.Fprintf(out, "Channel    %s (%s)\n", v.ChannelID, v.Provider())
				if v.Data != nil {
					fmt.Fprintf(out, "Stream     %s\n", v.Data.StreamURL())
				}
				fmt.Fprintf(out, "Directory  %s\n", v.Directory)
				fmt.Fprintf(out, "State      %s\n", stateLabel(v, colorize))
				fmt.Fprintf(out, "Started    %s\n", formatStarted(v.StartedAt))
				fmt.Fprintf(out, "Duration   %s\n", formatDuration(v.Duration))
				if offset, ok := v.GameOffset(); ok {
					fmt.Fprintf(out, "Game at    %s\n", textutil.FormatDuration(offset))
				}
				if current, ok := v.CurrentChapter(); ok {
					fmt.Fprintf(out, "Current    %s\n", chapterSummary(current))
				}
				fmt.Fprintf(out, "Retries    %d\n", v.Retries)
				if v.LastError != "" {
					fmt.Fprintf(out, "Error      %s\n", v.LastError)
				}

				if segments := v.LiveSegments(); len(segments) > 0 {
					rows := make([][]string, 0, len(segments))
					for _, seg := range segments {
						size := "-"
						if seg.Size != nil {
							size = textutil.FormatBytes(*seg.Size)
						}
						rows = append(rows, []string{seg.Basename, size})
					}
					fmt.Fprintln(out)
					fmt.Fprint(out, renderTable([]string{"Segment", "Size"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
				if len(v.Chapters) > 0 {
					rows := make([][]string, 0, len(v.Chapters))
					for i, ch := range v.Chapters {
						rows = append(rows, []string{
							strconv.Itoa(i + 1),
							formatDuration(ch.Offset),
							formatDuration(ch.Duration),
							ch.Title,
							ch.CategoryName,
						})
					}
					fmt.Fprintln(out)
					fmt.Fprint(out, renderTable(
						[]string{"#", "Offset", "Duration", "Title", "Category"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

// newVODRetryCommand retries in-process when no daemon holds the lock, and
// hands the retry to the daemon's inbox otherwise.
func newVODRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <uuid>",
		Short: "Convert what a failed, stopped or interrupted VOD captured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			id := args[0]
			out := cmd.OutOrStdout()

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("check daemon lock: %w", err)
			}
			if !locked {
				path, err := inbox.Write(cfg.Paths.InboxDir, inbox.Command{Type: inbox.TypeRetry, VODUUID: id})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Daemon running; queued retry as %s\n", path)
				return nil
			}
			defer func() { _ = lock.Unlock() }()

			return ctx.withStore(func(store *vod.Store) error {
				logger := ctx.cliLogger()
				runner := procexec.New(logger, procexec.WithMaxLines(cfg.Jobs.MaxLogLines), procexec.WithStopGrace(cfg.StopGrace()))
				registry := jobs.NewRegistry(cfg, logger, nil)
				pipeline := media.New(cfg, runner, registry, logger)
				manager := capture.New(cfg, store, registry, runner, pipeline, nil, logger)
				defer func() { _ = manager.Close(commandCtx(cmd)) }()

				runCtx := commandCtx(cmd)
				if err := manager.Retry(runCtx, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Retrying %s\n", id)
				if err := manager.Wait(runCtx, id); err != nil {
					return err
				}
				v, err := manager.Get(runCtx, id)
				if err != nil {
					return err
				}
				if v.Failed {
					return fmt.Errorf("retry of %s failed: %s", id, v.LastError)
				}
				fmt.Fprintf(out, "%s is %s\n", id, stateLabel(v, shouldColorize(out)))
				return nil
			})
		},
	}
}

func formatStarted(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func chapterSummary(ch timeline.Chapter) string {
	if ch.CategoryName == "" {
		return ch.Title
	}
	return ch.Title + " [" + ch.CategoryName + "]"
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return textutil.FormatDuration(*seconds)
}
