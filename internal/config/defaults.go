package config

const (
	defaultDataDir                = "~/.local/share/fairsync"
	defaultLogDir                 = "~/.local/share/fairsync/logs"
	defaultAPIBind                = "127.0.0.1:7519"
	defaultBackendHealthPath      = "/api/healthz"
	defaultBackendRequestTimeout  = 30
	defaultSyncMaxAttempts        = 5
	defaultSyncBackoffBase        = 2
	defaultSyncBackoffCap         = 300
	defaultBacklogAlertThreshold  = 200
	defaultOfflineRecheckInterval = 15
	defaultNetworkProbeInterval   = 10
	defaultNetworkProbeTimeout    = 5
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Backend: Backend{
			RequestTimeout: defaultBackendRequestTimeout,
			HealthPath:     defaultBackendHealthPath,
		},
		Sync: Sync{
			MaxAttempts:            defaultSyncMaxAttempts,
			BackoffBaseSeconds:     defaultSyncBackoffBase,
			BackoffCapSeconds:      defaultSyncBackoffCap,
			BacklogAlertThreshold:  defaultBacklogAlertThreshold,
			OfflineRecheckInterval: defaultOfflineRecheckInterval,
		},
		Network: Network{
			ProbeInterval: defaultNetworkProbeInterval,
			ProbeTimeout:  defaultNetworkProbeTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			SyncOutcomes:   true,
			StuckItems:     true,
			Backlog:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
