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

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// API contains connection settings for the life-story admin REST API.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Events contains settings for the push event channel.
type Events struct {
	URL                   string `toml:"url"`
	ReconnectInitialDelay int    `toml:"reconnect_initial_delay_ms"`
	ReconnectMaxDelay     int    `toml:"reconnect_max_delay_ms"`
	HandshakeTimeout      int    `toml:"handshake_timeout_seconds"`
}

// Admin identifies the operator recorded as the actor on draft decisions.
type Admin struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Email string `toml:"email"`
	Role  string `toml:"role"`
}

// Upload contains file validation and tracker timing settings.
type Upload struct {
	MaxSizeMB         int      `toml:"max_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	CompleteDelayMS   int      `toml:"complete_delay_ms"`
	ErrorDelayMS      int      `toml:"error_delay_ms"`
	TrackingTimeout   int      `toml:"tracking_timeout_seconds"`
	// RequestTimeout bounds one upload request, body and response included.
	// Zero leaves uploads bounded only by the caller's context.
	RequestTimeout int `toml:"request_timeout_seconds"`
}

// Regeneration contains settings for awaiting asynchronous draft regeneration.
type Regeneration struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Paths contains directory locations.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Watch contains settings for the long-running watcher and its status API.
type Watch struct {
	APIBind        string   `toml:"api_bind"`
	APIToken       string   `toml:"api_token"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Interviews     []string `toml:"interviews"`
	LogBuffer      int      `toml:"log_buffer"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Pipeline       bool   `toml:"pipeline"`
	Drafts         bool   `toml:"drafts"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for lifestory.
//
// Configuration sections by subsystem:
//   - API: REST base URL, bearer token, request timeout
//   - Events: push channel URL and reconnect backoff
//   - Admin: operator identity recorded on approvals and rejections
//   - Upload: file allow-list, size limit, tracker delays and timeout
//   - Regeneration: timeout before falling back to a REST poll
//   - Paths: data and log directories
//   - Watch: watcher status API bind address and followed interviews
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	API           API           `toml:"api"`
	Events        Events        `toml:"events"`
	Admin         Admin         `toml:"admin"`
	Upload        Upload        `toml:"upload"`
	Regeneration  Regeneration  `toml:"regeneration"`
	Paths         Paths         `toml:"paths"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first unless APP_ENV is production; it never overrides variables that
// are already set.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

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

func loadDotEnv() error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production") {
		return nil
	}
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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

	projectPath, err := filepath.Abs("lifestory.toml")
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

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite audit journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "journal.db")
}

// WatchLockPath returns the single-instance lock file for the watcher.
func (c *Config) WatchLockPath() string {
	return filepath.Join(c.Paths.DataDir, "watch.lock")
}

// APITimeout returns the per-request REST timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) * 1024 * 1024
}

// CompleteDelay is how long a completed pipeline stays visible before the tracker resets.
func (c *Config) CompleteDelay() time.Duration {
	return time.Duration(c.Upload.CompleteDelayMS) * time.Millisecond
}

// ErrorDelay is how long a pipeline error stays visible before the tracker resets.
func (c *Config) ErrorDelay() time.Duration {
	return time.Duration(c.Upload.ErrorDelayMS) * time.Millisecond
}

// TrackingTimeout bounds how long the tracker waits for a terminal event.
func (c *Config) UploadRequestTimeout() time.Duration {
	return time.Duration(c.Upload.RequestTimeout) * time.Second
}

func (c *Config) TrackingTimeout() time.Duration {
	return time.Duration(c.Upload.TrackingTimeout) * time.Second
}

// RegenerationTimeout bounds how long a regeneration waits for its completion event.
func (c *Config) RegenerationTimeout() time.Duration {
	return time.Duration(c.Regeneration.TimeoutSeconds) * time.Second
}

// ReconnectBackoff returns the initial and maximum reconnect delays for the event channel.
func (c *Config) ReconnectBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Events.ReconnectInitialDelay) * time.Millisecond,
		time.Duration(c.Events.ReconnectMaxDelay) * time.Millisecond
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

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
