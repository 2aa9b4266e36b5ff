package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/daemon"
	"livestreamdvr/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the capture daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, stop := signal.NotifyContext(commandCtx(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := daemon.Run(runCtx, cfg, logger); err != nil && runCtx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
