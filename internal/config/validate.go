package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var gridPattern = regexp.MustCompile(`^\d+x\d+$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		return errors.New("paths.storage_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.MaxRetries < 0 {
		return errors.New("capture.max_retries must be zero or positive")
	}
	if c.Capture.RetryDelaySeconds < 0 {
		return errors.New("capture.retry_delay_seconds must be zero or positive")
	}
	if c.Capture.StopGraceSeconds < 0 {
		return errors.New("capture.stop_grace_seconds must be zero or positive")
	}
	if c.Capture.Container == c.Capture.AudioContainer {
		return fmt.Errorf("capture.container and capture.audio_container must differ (both %q)", c.Capture.Container)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.UpdateIntervalMS < 0 {
		return errors.New("jobs.update_interval_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateMedia() error {
	if c.Media.ThumbnailWidth <= 0 {
		return errors.New("media.thumbnail_width must be positive")
	}
	if c.Media.ContactSheetWidth <= 0 {
		return errors.New("media.contact_sheet_width must be positive")
	}
	if !gridPattern.MatchString(c.Media.ContactSheetGrid) {
		return fmt.Errorf("media.contact_sheet_grid must look like 3x5, got %q", c.Media.ContactSheetGrid)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Bind) == "" {
		return errors.New("metrics.bind must be set when metrics.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
