package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/media"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/textutil"
)

// newMediaCommands are one-shot media operations that run in this process
// without the daemon.
func newMediaCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRemuxCommand(ctx),
		newCutCommand(ctx),
		newThumbnailCommand(ctx),
		newContactSheetCommand(ctx),
		newProbeCommand(ctx),
	}
}

func newRemuxCommand(ctx *commandContext) *cobra.Command {
	var (
		overwrite bool
		metadata  string
	)
	cmd := &cobra.Command{
		Use:   "remux <input> <output>",
		Short: "Copy streams into a new container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.localPipeline()
			if err != nil {
				return err
			}
			progress := newProgressLine(cmd.ErrOrStderr(), "remux")
			res, err := pipeline.Remux(commandCtx(cmd), media.RemuxRequest{
				Input:        args[0],
				Output:       args[1],
				MetadataFile: metadata,
				Overwrite:    overwrite,
				JobOptions:   media.JobOptions{OnProgress: progress.update},
			})
			progress.done()
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing output")
	cmd.Flags().StringVar(&metadata, "metadata", "", "ffmetadata file with chapters to embed")
	return cmd
}

func newCutCommand(ctx *commandContext) *cobra.Command {
	var (
		start     string
		end       string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "cut <input> <output>",
		Short: "Extract a span without re-encoding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			startSec, ok := textutil.ParseClock(start)
			if !ok {
				return &services.ValidationError{Op: "cut", Path: "start", Reason: fmt.Sprintf("invalid time %q, want HH:MM:SS", start)}
			}
			endSec, ok := textutil.ParseClock(end)
			if !ok {
				return &services.ValidationError{Op: "cut", Path: "end", Reason: fmt.Sprintf("invalid time %q, want HH:MM:SS", end)}
			}
			pipeline, err := ctx.localPipeline()
			if err != nil {
				return err
			}
			progress := newProgressLine(cmd.ErrOrStderr(), "cut")
			res, err := pipeline.Cut(commandCtx(cmd), media.CutRequest{
				Input:      args[0],
				Output:     args[1],
				Start:      startSec,
				End:        endSec,
				Overwrite:  overwrite,
				JobOptions: media.JobOptions{OnProgress: progress.update},
			})
			progress.done()
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Span start, HH:MM:SS")
	cmd.Flags().StringVar(&end, "end", "", "Span end, HH:MM:SS")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing output")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newThumbnailCommand(ctx *commandContext) *cobra.Command {
	var (
		width  int
		offset time.Duration
		clearCache bool
	)
	cmd := &cobra.Command{
		Use:   "thumbnail [input]",
		Short: "Grab a cached thumbnail frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.localPipeline()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if clearCache {
				removed, err := pipeline.ClearThumbnails()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d cached thumbnails\n", removed)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("thumbnail requires an input file")
			}
			res, err := pipeline.Thumbnail(commandCtx(cmd), media.ThumbnailRequest{
				Input:  args[0],
				Width:  width,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			printResult(out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Thumbnail width in pixels (default from config)")
	cmd.Flags().DurationVar(&offset, "offset", 5*time.Second, "Position of the grabbed frame")
	cmd.Flags().BoolVar(&clearCache, "clear", false, "Remove all cached thumbnails instead")
	return cmd
}

func newContactSheetCommand(ctx *commandContext) *cobra.Command {
	var (
		width     int
		grid      string
		output    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "contact-sheet <input>",
		Short: "Render a grid of frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.localPipeline()
			if err != nil {
				return err
			}
			res, err := pipeline.ContactSheet(commandCtx(cmd), media.ContactSheetRequest{
				Input:     args[0],
				Output:    output,
				Width:     width,
				Grid:      grid,
				Overwrite: overwrite,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Sheet width in pixels (default from config)")
	cmd.Flags().StringVar(&grid, "grid", "", "Grid as COLSxROWS (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output image (default next to the input)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Regenerate an existing sheet")
	return cmd
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var useMediainfo bool
	cmd := &cobra.Command{
		Use:   "probe <input>",
		Short: "Print container and stream details as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.localPipeline()
			if err != nil {
				return err
			}
			if useMediainfo {
				info, err := pipeline.MediaInfo(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, info)
			}
			res, err := pipeline.Probe(commandCtx(cmd), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&useMediainfo, "mediainfo", false, "Use mediainfo instead of ffprobe")
	return cmd
}

func printResult(out io.Writer, res media.Result) {
	if res.Cached {
		fmt.Fprintf(out, "%s (cached, %s)\n", res.Output, textutil.FormatBytes(res.Size))
		return
	}
	fmt.Fprintf(out, "%s (%s in %s)\n", res.Output, textutil.FormatBytes(res.Size), res.Runtime.Round(time.Millisecond))
}
