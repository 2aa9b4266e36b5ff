package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBinaries()
	c.normalizeCapture()
	c.normalizeJobs()
	c.normalizeMedia()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PidsDir) == "" {
		c.Paths.PidsDir = filepath.Join(c.Paths.DataDir, defaultPidsSubdir)
	}
	if c.Paths.PidsDir, err = expandPath(c.Paths.PidsDir); err != nil {
		return fmt.Errorf("paths.pids_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.InboxDir) == "" {
		c.Paths.InboxDir = filepath.Join(c.Paths.DataDir, defaultInboxSubdir)
	}
	if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBinaries() {
	trimOr := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	c.Binaries.FFmpeg = trimOr(c.Binaries.FFmpeg, "ffmpeg")
	c.Binaries.FFprobe = trimOr(c.Binaries.FFprobe, "ffprobe")
	c.Binaries.Mediainfo = trimOr(c.Binaries.Mediainfo, "mediainfo")
	c.Binaries.Streamlink = trimOr(c.Binaries.Streamlink, "streamlink")
	c.Binaries.VCSI = trimOr(c.Binaries.VCSI, "vcsi")
}

func (c *Config) normalizeCapture() {
	c.Capture.Quality = strings.TrimSpace(c.Capture.Quality)
	if c.Capture.Quality == "" {
		c.Capture.Quality = defaultQuality
	}
	c.Capture.Container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Capture.Container)), ".")
	if c.Capture.Container == "" {
		c.Capture.Container = defaultContainer
	}
	c.Capture.AudioContainer = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Capture.AudioContainer)), ".")
	if c.Capture.AudioContainer == "" {
		c.Capture.AudioContainer = defaultAudioContainer
	}
	if c.Capture.RemuxConcurrency <= 0 {
		c.Capture.RemuxConcurrency = 1
	}
}

func (c *Config) normalizeJobs() {
	if c.Jobs.MaxLogLines <= 0 {
		c.Jobs.MaxLogLines = defaultMaxLogLines
	}
	if c.Jobs.LivenessPollSeconds <= 0 {
		c.Jobs.LivenessPollSeconds = defaultLivenessPollSeconds
	}
}

func (c *Config) normalizeMedia() {
	c.Media.ThumbnailFormat = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Media.ThumbnailFormat)), ".")
	if c.Media.ThumbnailFormat == "" {
		c.Media.ThumbnailFormat = defaultThumbnailFormat
	}
	c.Media.ContactSheetGrid = strings.TrimSpace(c.Media.ContactSheetGrid)
	if c.Media.ContactSheetGrid == "" {
		c.Media.ContactSheetGrid = defaultContactSheetGrid
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	if c.Notifications.BusBuffer <= 0 {
		c.Notifications.BusBuffer = defaultBusBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
