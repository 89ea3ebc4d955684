package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/fairsync/config.toml"
		}
		return fmt.Errorf("backend.base_url is required. Edit %s (create with 'fairsync config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", c.Backend.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url scheme %q is not supported", parsed.Scheme)
	}
	if c.Backend.RequestTimeout <= 0 {
		return errors.New("backend.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateSync() error {
	if err := ensurePositiveMap(map[string]int{
		"sync.max_attempts":             c.Sync.MaxAttempts,
		"sync.backoff_base_seconds":     c.Sync.BackoffBaseSeconds,
		"sync.backoff_cap_seconds":      c.Sync.BackoffCapSeconds,
		"sync.offline_recheck_interval": c.Sync.OfflineRecheckInterval,
	}); err != nil {
		return err
	}
	if c.Sync.BackoffCapSeconds < c.Sync.BackoffBaseSeconds {
		return errors.New("sync.backoff_cap_seconds must be >= sync.backoff_base_seconds")
	}
	if c.Sync.BacklogAlertThreshold < 1 {
		return errors.New("sync.backlog_alert_threshold must be >= 1")
	}
	return nil
}

func (c *Config) validateNetwork() error {
	return ensurePositiveMap(map[string]int{
		"network.probe_interval": c.Network.ProbeInterval,
		"network.probe_timeout":  c.Network.ProbeTimeout,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
