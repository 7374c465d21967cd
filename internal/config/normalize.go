package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeEvents()
	c.normalizeAdmin()
	c.normalizeUpload()
	c.normalizeWatch()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	if value, ok := os.LookupEnv("LIFESTORY_API_URL"); ok && strings.TrimSpace(value) != "" {
		c.API.BaseURL = value
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultAPIBaseURL
	}
	if strings.TrimSpace(c.API.Token) == "" {
		if value, ok := os.LookupEnv("LIFESTORY_API_TOKEN"); ok {
			c.API.Token = value
		}
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultAPITimeoutSeconds
	}
}

func (c *Config) normalizeEvents() {
	if value, ok := os.LookupEnv("LIFESTORY_EVENTS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Events.URL = value
	}
	c.Events.URL = strings.TrimSpace(c.Events.URL)
	if c.Events.ReconnectInitialDelay <= 0 {
		c.Events.ReconnectInitialDelay = defaultReconnectInitialDelay
	}
	if c.Events.ReconnectMaxDelay <= 0 {
		c.Events.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.Events.HandshakeTimeout <= 0 {
		c.Events.HandshakeTimeout = defaultHandshakeTimeout
	}
}

func (c *Config) normalizeAdmin() {
	c.Admin.ID = strings.TrimSpace(c.Admin.ID)
	c.Admin.Name = strings.TrimSpace(c.Admin.Name)
	c.Admin.Email = strings.ToLower(strings.TrimSpace(c.Admin.Email))
	c.Admin.Role = strings.TrimSpace(c.Admin.Role)
	if c.Admin.Role == "" {
		c.Admin.Role = defaultAdminRole
	}
}

func (c *Config) normalizeUpload() {
	if c.Upload.MaxSizeMB <= 0 {
		c.Upload.MaxSizeMB = defaultMaxUploadMB
	}
	seen := make(map[string]struct{}, len(c.Upload.AllowedExtensions))
	exts := make([]string, 0, len(c.Upload.AllowedExtensions))
	for _, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = append(exts, DefaultAllowedExtensions...)
	}
	c.Upload.AllowedExtensions = exts
	if c.Upload.CompleteDelayMS < 0 {
		c.Upload.CompleteDelayMS = defaultCompleteDelayMS
	}
	if c.Upload.ErrorDelayMS < 0 {
		c.Upload.ErrorDelayMS = defaultErrorDelayMS
	}
	if c.Upload.RequestTimeout < 0 {
		c.Upload.RequestTimeout = 0
	}
	if c.Upload.TrackingTimeout <= 0 {
		c.Upload.TrackingTimeout = defaultTrackingTimeout
	}
	if c.Regeneration.TimeoutSeconds <= 0 {
		c.Regeneration.TimeoutSeconds = defaultRegenerationTimeout
	}
}

func (c *Config) normalizeWatch() {
	c.Watch.APIBind = strings.TrimSpace(c.Watch.APIBind)
	if c.Watch.APIBind == "" {
		c.Watch.APIBind = defaultWatchBind
	}
	if strings.TrimSpace(c.Watch.APIToken) == "" {
		if value, ok := os.LookupEnv("LIFESTORY_WATCH_TOKEN"); ok {
			c.Watch.APIToken = value
		}
	}
	c.Watch.APIToken = strings.TrimSpace(c.Watch.APIToken)
	ids := c.Watch.Interviews[:0]
	for _, id := range c.Watch.Interviews {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.Watch.Interviews = ids
	if c.Watch.LogBuffer <= 0 {
		c.Watch.LogBuffer = defaultWatchLogBuffer
	}
}

func (c *Config) normalizeNotifications() {
	if strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
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
