package config

const (
	defaultConfigPath          = "~/.config/livestreamdvr/config.toml"
	defaultDataDir             = "~/.local/share/livestreamdvr"
	defaultStorageDir          = "~/.local/share/livestreamdvr/storage"
	defaultLogDir              = "~/.local/share/livestreamdvr/logs"
	defaultCacheDir            = "~/.cache/livestreamdvr"
	defaultPidsSubdir          = "pids"
	defaultInboxSubdir         = "inbox"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultMaxRetries          = 3
	defaultRetryDelaySeconds   = 10
	defaultStopGraceSeconds    = 10
	defaultQuality             = "best"
	defaultContainer           = "mp4"
	defaultAudioContainer      = "m4a"
	defaultRemuxConcurrency    = 2
	defaultMaxLogLines         = 2000
	defaultUpdateIntervalMS    = 2000
	defaultLivenessPollSeconds = 15
	defaultThumbnailWidth      = 320
	defaultThumbnailFormat     = "jpg"
	defaultContactSheetWidth   = 1920
	defaultContactSheetGrid    = "3x5"
	defaultNotifyTimeout       = 10
	defaultBusBuffer           = 64
	defaultMetricsBind         = "127.0.0.1:9464"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			CacheDir:   defaultCacheDir,
		},
		Binaries: Binaries{
			FFmpeg:     "ffmpeg",
			FFprobe:    "ffprobe",
			Mediainfo:  "mediainfo",
			Streamlink: "streamlink",
			VCSI:       "vcsi",
		},
		Capture: Capture{
			MaxRetries:        defaultMaxRetries,
			RetryDelaySeconds: defaultRetryDelaySeconds,
			StopGraceSeconds:  defaultStopGraceSeconds,
			Quality:           defaultQuality,
			Container:         defaultContainer,
			AudioContainer:    defaultAudioContainer,
			RemuxConcurrency:  defaultRemuxConcurrency,
		},
		Jobs: Jobs{
			MaxLogLines:         defaultMaxLogLines,
			UpdateIntervalMS:    defaultUpdateIntervalMS,
			LivenessPollSeconds: defaultLivenessPollSeconds,
		},
		Media: Media{
			ThumbnailWidth:    defaultThumbnailWidth,
			ThumbnailFormat:   defaultThumbnailFormat,
			ContactSheetWidth: defaultContactSheetWidth,
			ContactSheetGrid:  defaultContactSheetGrid,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			VODTransitions: true,
			Failures:       true,
			BusBuffer:      defaultBusBuffer,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
