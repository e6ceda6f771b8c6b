package config

const (
	defaultConfigPath                 = "~/.config/comfyforge/config.toml"
	defaultDataDir                    = "~/.local/share/comfyforge"
	defaultLogDir                     = "~/.local/share/comfyforge/logs"
	defaultAPIBind                    = "127.0.0.1:7850"
	defaultStrategy                   = "balanced"
	defaultMinQuota                   = 1
	defaultMonitorIntervalMinutes     = 60
	defaultMonitorStaleAfterMinutes   = 60
	defaultMonitorProbeTimeoutSeconds = 15
	defaultRunsBackend                = "memory"
	defaultRunsRetentionMinutes       = 1440
	defaultRunsMaxEntries             = 1000
	defaultRedisPrefix                = "comfyforge:runs:"
	defaultProviderRetryAttempts      = 1
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			APIBind:        defaultAPIBind,
			MetricsEnabled: true,
		},
		Router: Router{
			DefaultStrategy: defaultStrategy,
			MinQuota:        defaultMinQuota,
		},
		Monitor: Monitor{
			Enabled:             true,
			IntervalMinutes:     defaultMonitorIntervalMinutes,
			StaleAfterMinutes:   defaultMonitorStaleAfterMinutes,
			ProbeTimeoutSeconds: defaultMonitorProbeTimeoutSeconds,
		},
		Runs: Runs{
			Backend:          defaultRunsBackend,
			RetentionMinutes: defaultRunsRetentionMinutes,
			MaxEntries:       defaultRunsMaxEntries,
			RedisPrefix:      defaultRedisPrefix,
		},
		Providers: map[string]Provider{},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
