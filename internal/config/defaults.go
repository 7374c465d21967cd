package config

const (
	defaultConfigPath            = "~/.config/lifestory/config.toml"
	defaultAPIBaseURL            = "http://localhost:3001/api"
	defaultAPITimeoutSeconds     = 30
	defaultEventsURL             = "ws://localhost:3001/ws"
	defaultReconnectInitialDelay = 500
	defaultReconnectMaxDelay     = 30000
	defaultHandshakeTimeout      = 10
	defaultAdminRole             = "admin"
	defaultMaxUploadMB           = 100
	defaultCompleteDelayMS       = 2000
	defaultErrorDelayMS          = 3000
	defaultTrackingTimeout       = 900
	defaultRegenerationTimeout   = 300
	defaultDataDir               = "~/.local/share/lifestory"
	defaultLogDir                = "~/.local/share/lifestory/logs"
	defaultWatchBind             = "127.0.0.1:7490"
	defaultWatchLogBuffer        = 512
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultNotifyTimeout         = 10
)

// DefaultAllowedExtensions lists the upload file types accepted by the pipeline.
var DefaultAllowedExtensions = []string{
	"mp3", "wav", "m4a", "aac", "ogg", "webm", "flac",
	"txt", "md", "pdf", "doc", "docx",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        defaultAPIBaseURL,
			TimeoutSeconds: defaultAPITimeoutSeconds,
		},
		Events: Events{
			URL:                   defaultEventsURL,
			ReconnectInitialDelay: defaultReconnectInitialDelay,
			ReconnectMaxDelay:     defaultReconnectMaxDelay,
			HandshakeTimeout:      defaultHandshakeTimeout,
		},
		Admin: Admin{
			Role: defaultAdminRole,
		},
		Upload: Upload{
			MaxSizeMB:         defaultMaxUploadMB,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
			CompleteDelayMS:   defaultCompleteDelayMS,
			ErrorDelayMS:      defaultErrorDelayMS,
			TrackingTimeout:   defaultTrackingTimeout,
		},
		Regeneration: Regeneration{
			TimeoutSeconds: defaultRegenerationTimeout,
		},
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Watch: Watch{
			APIBind:   defaultWatchBind,
			LogBuffer: defaultWatchLogBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Pipeline:       true,
			Drafts:         true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
