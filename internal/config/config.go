package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	CacheDir   string `toml:"cache_dir"`
	PidsDir    string `toml:"pids_dir"`
	InboxDir   string `toml:"inbox_dir"`
}

// Binaries names the external tools the core invokes.
type Binaries struct {
	FFmpeg     string `toml:"ffmpeg"`
	FFprobe    string `toml:"ffprobe"`
	Mediainfo  string `toml:"mediainfo"`
	Streamlink string `toml:"streamlink"`
	VCSI       string `toml:"vcsi"`
}

// Capture contains retry and container settings for live captures.
type Capture struct {
	MaxRetries        int    `toml:"max_retries"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds"`
	StopGraceSeconds  int    `toml:"stop_grace_seconds"`
	Quality           string `toml:"quality"`
	Container         string `toml:"container"`
	AudioContainer    string `toml:"audio_container"`
	RemuxConcurrency  int    `toml:"remux_concurrency"`
}

// Jobs contains supervised job bookkeeping settings.
type Jobs struct {
	MaxLogLines         int `toml:"max_log_lines"`
	UpdateIntervalMS    int `toml:"update_interval_ms"`
	LivenessPollSeconds int `toml:"liveness_poll_seconds"`
}

// Media contains derivative artifact settings.
type Media struct {
	ThumbnailWidth    int    `toml:"thumbnail_width"`
	ThumbnailFormat   string `toml:"thumbnail_format"`
	ContactSheetWidth int    `toml:"contact_sheet_width"`
	ContactSheetGrid  string `toml:"contact_sheet_grid"`
	VerboseTools      bool   `toml:"verbose_tools"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	VODTransitions bool   `toml:"vod_transitions"`
	Failures       bool   `toml:"failures"`
	BusBuffer      int    `toml:"bus_buffer"`
}

// Metrics controls the prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Paths: data, storage, log, cache, job record and inbox directories
//   - Binaries: external tool names or absolute paths
//   - Capture: retry budget, stop grace period and output containers
//   - Jobs: log excerpt size, update debounce and liveness polling
//   - Media: thumbnail and contact sheet defaults
//   - Notifications: ntfy push notification settings
//   - Metrics: prometheus endpoint
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Binaries      Binaries      `toml:"binaries"`
	Capture       Capture       `toml:"capture"`
	Jobs          Jobs          `toml:"jobs"`
	Media         Media         `toml:"media"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("livestreamdvr.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.DataDir,
		c.Paths.StorageDir,
		c.Paths.LogDir,
		c.SoftwareLogDir(),
		c.Paths.CacheDir,
		c.ThumbnailCacheDir(),
		c.Paths.PidsDir,
		c.Paths.InboxDir,
	} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SoftwareLogDir is where per-job stdout/stderr logs are written.
func (c *Config) SoftwareLogDir() string {
	return filepath.Join(c.Paths.LogDir, "software")
}

// ThumbnailCacheDir holds hashed thumbnail outputs.
func (c *Config) ThumbnailCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "thumbs")
}

// DatabasePath is the SQLite file backing the VOD store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "vods.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "livestreamdvr.lock")
}

// StopGrace is the SIGTERM to SIGKILL window for administrative stops.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Capture.StopGraceSeconds) * time.Second
}

// RetryDelay is the pause before a capture retry.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Capture.RetryDelaySeconds) * time.Second
}

// UpdateInterval is the minimum spacing between job update notifications.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Jobs.UpdateIntervalMS) * time.Millisecond
}

// LivenessPoll is the interval used to watch jobs adopted after a restart.
func (c *Config) LivenessPoll() time.Duration {
	return time.Duration(c.Jobs.LivenessPollSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
