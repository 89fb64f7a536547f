package config

const (
	defaultConfigPath          = "~/.config/dropwatch/config.toml"
	defaultStateDir            = "~/.local/share/dropwatch"
	defaultLogDir              = "~/.local/share/dropwatch/logs"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultImportDir           = "~/dropwatch/import"
	defaultFailedDir           = "~/dropwatch/failed"
	defaultMonitoringMode      = ModePoll
	defaultPollInterval        = 5
	defaultFallbackInterval    = 60
	defaultQuietPeriodMS       = 2000
	defaultGraceWindowMS       = 1000
	defaultQueueSize           = 1024
	defaultCleanupInterval     = 60
	defaultStatusRetentionDays = 30
	defaultFileRetentionDays   = 14
	defaultTimeoutHours        = 2
	defaultGenericRemark       = "File was rejected by the processing system"
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Locations: []Location{
			{Name: "Import", Path: defaultImportDir, Role: RoleImport, Type: TypeLocal},
			{Name: "Failed", Path: defaultFailedDir, Role: RoleFailed, Type: TypeLocal},
		},
		Monitoring: Monitoring{
			Mode:             defaultMonitoringMode,
			PollInterval:     defaultPollInterval,
			FallbackInterval: defaultFallbackInterval,
			QuietPeriodMS:    defaultQuietPeriodMS,
			GraceWindowMS:    defaultGraceWindowMS,
			QueueSize:        defaultQueueSize,
		},
		Cleanup: Cleanup{
			Interval:          defaultCleanupInterval,
			StatusRetention:   Rule{Enabled: true, Value: defaultStatusRetentionDays, Unit: UnitDays},
			FileRetention:     Rule{Enabled: false, Value: defaultFileRetentionDays, Unit: UnitDays},
			ProcessingTimeout: Rule{Enabled: true, Value: defaultTimeoutHours, Unit: UnitHours},
		},
		Validation: Validation{
			GenericRemark: defaultGenericRemark,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Failed:         true,
			TimedOut:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
