package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/vod"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger writes warnings and errors to stderr in console format. The
// daemon builds its own logger from the config.
func (c *commandContext) cliLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Writer: os.Stderr})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) withStore(fn func(*vod.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := vod.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// localPipeline is a pipeline for one-shot media commands, outside the
// daemon.
func (c *commandContext) localPipeline() (*media.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.cliLogger()
	runner := procexec.New(logger, procexec.WithMaxLines(cfg.Jobs.MaxLogLines))
	registry := jobs.NewRegistry(cfg, logger, nil)
	return media.New(cfg, runner, registry, logger), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
