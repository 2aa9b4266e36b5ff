package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		stream string
	)
	cmd := &cobra.Command{
		Use:   "logs [job-name]",
		Short: "Show the daemon log or a job's output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.DaemonLogName)
			if len(args) == 1 {
				if stream != "stdout" && stream != "stderr" {
					return fmt.Errorf("--stream must be stdout or stderr, got %q", stream)
				}
				path = filepath.Join(cfg.SoftwareLogDir(), args[0]+"_"+stream+".log")
			}

			out := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			runCtx, stop := signal.NotifyContext(commandCtx(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, offset, func(line string) { fmt.Fprintln(out, line) })
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&stream, "stream", "stderr", "Job output stream: stdout or stderr")
	return cmd
}
