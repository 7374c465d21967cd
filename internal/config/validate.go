package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", c.API.BaseURL)
	}
	if parsed.Host == "" {
		return errors.New("api.base_url must include a host")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.URL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Events.URL)
	if err != nil {
		return fmt.Errorf("events.url: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("events.url must use ws or wss, got %q", c.Events.URL)
	}
	if c.Events.ReconnectMaxDelay < c.Events.ReconnectInitialDelay {
		return errors.New("events.reconnect_max_delay_ms must be >= events.reconnect_initial_delay_ms")
	}
	return nil
}

func (c *Config) validateUpload() error {
	for _, ext := range c.Upload.AllowedExtensions {
		if strings.ContainsAny(ext, "/\\ ") {
			return fmt.Errorf("upload.allowed_extensions: invalid extension %q", ext)
		}
	}
	return nil
}

func (c *Config) validateWatch() error {
	if _, _, err := net.SplitHostPort(c.Watch.APIBind); err != nil {
		return fmt.Errorf("watch.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
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
