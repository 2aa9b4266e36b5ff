package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"livestreamdvr/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every directory is created so packages under test can write immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StorageDir = filepath.Join(base, "storage")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.PidsDir = filepath.Join(base, "data", "pids")
	cfgVal.Paths.InboxDir = filepath.Join(base, "data", "inbox")
	cfgVal.Capture.RetryDelaySeconds = 0
	cfgVal.Capture.StopGraceSeconds = 1
	cfgVal.Jobs.UpdateIntervalMS = 0
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxRetries overrides the capture retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.MaxRetries = n
	}
}

// WithFakeTools writes shell scripts into <base>/bin and points the matching
// binaries config entries at them. Keys are ffmpeg, ffprobe, mediainfo,
// streamlink and vcsi.
func WithFakeTools(scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for name, body := range scripts {
			path := FakeTool(b.t, binDir, name, body)
			switch name {
			case "ffmpeg":
				b.cfg.Binaries.FFmpeg = path
			case "ffprobe":
				b.cfg.Binaries.FFprobe = path
			case "mediainfo":
				b.cfg.Binaries.Mediainfo = path
			case "streamlink":
				b.cfg.Binaries.Streamlink = path
			case "vcsi":
				b.cfg.Binaries.VCSI = path
			default:
				b.t.Fatalf("unknown fake tool %q", name)
			}
		}
	}
}

// FakeTool writes an executable /bin/sh script named name into dir and
// returns its path.
func FakeTool(t testing.TB, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
