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
	c.normalizeBackend()
	c.normalizeSync()
	c.normalizeNetwork()
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
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("FAIRSYNC_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
	if c.Backend.APIToken == "" {
		if value, ok := os.LookupEnv("FAIRSYNC_BACKEND_TOKEN"); ok {
			c.Backend.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultBackendRequestTimeout
	}
	c.Backend.HealthPath = strings.TrimSpace(c.Backend.HealthPath)
	if c.Backend.HealthPath == "" {
		c.Backend.HealthPath = defaultBackendHealthPath
	}
	if !strings.HasPrefix(c.Backend.HealthPath, "/") {
		c.Backend.HealthPath = "/" + c.Backend.HealthPath
	}
}

func (c *Config) normalizeSync() {
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = defaultSyncMaxAttempts
	}
	if c.Sync.BackoffBaseSeconds <= 0 {
		c.Sync.BackoffBaseSeconds = defaultSyncBackoffBase
	}
	if c.Sync.BackoffCapSeconds <= 0 {
		c.Sync.BackoffCapSeconds = defaultSyncBackoffCap
	}
	if c.Sync.BacklogAlertThreshold <= 0 {
		c.Sync.BacklogAlertThreshold = defaultBacklogAlertThreshold
	}
	if c.Sync.OfflineRecheckInterval <= 0 {
		c.Sync.OfflineRecheckInterval = defaultOfflineRecheckInterval
	}
}

func (c *Config) normalizeNetwork() {
	if c.Network.ProbeInterval <= 0 {
		c.Network.ProbeInterval = defaultNetworkProbeInterval
	}
	if c.Network.ProbeTimeout <= 0 {
		c.Network.ProbeTimeout = defaultNetworkProbeTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
