package config

const (
	defaultStateDir             = "~/.local/share/nmrauto"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultAutosamplerPort      = "/dev/ttyACM0"
	defaultAutosamplerBaudRate  = 9600
	defaultInsertTimeout        = 120
	defaultReturnTimeout        = 120
	defaultStatusPollMillis     = 200
	defaultSpectrometerHost     = "127.0.0.1"
	defaultSpectrometerPort     = 13000
	defaultDialTimeout          = 5
	defaultConnectAttempts      = 11
	defaultConnectRetryDelay    = 10
	defaultDataFolder           = "~/nmr-data"
	defaultEvalToolName         = "evaluate"
	defaultEvalTimeout          = 60
	defaultTickInterval         = 1
	defaultProgressInterval     = 1
	defaultCommandPollMillis    = 500
	defaultEscalationWait       = 5
	defaultErrorBackoffSeconds  = 1
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	autosamplerPortEnv          = "NMRAUTO_AUTOSAMPLER_PORT"
	spectrometerHostEnv         = "NMRAUTO_SPECTROMETER_HOST"
	defaultConfigCreateCommand  = "nmrauto config init"
	defaultMaxEvalTimeout       = 600
	defaultMaxConnectRetryDelay = 300
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Autosampler: Autosampler{
			Port:             defaultAutosamplerPort,
			BaudRate:         defaultAutosamplerBaudRate,
			InsertTimeout:    defaultInsertTimeout,
			ReturnTimeout:    defaultReturnTimeout,
			StatusPollMillis: defaultStatusPollMillis,
			Hotplug:          true,
		},
		Spectrometer: Spectrometer{
			Host:              defaultSpectrometerHost,
			Port:              defaultSpectrometerPort,
			DialTimeout:       defaultDialTimeout,
			ConnectAttempts:   defaultConnectAttempts,
			ConnectRetryDelay: defaultConnectRetryDelay,
		},
		Data: Data{
			DataFolder:   defaultDataFolder,
			EvalToolName: defaultEvalToolName,
			EvalTimeout:  defaultEvalTimeout,
		},
		Workflow: Workflow{
			TickInterval:        defaultTickInterval,
			ProgressInterval:    defaultProgressInterval,
			CommandPollMillis:   defaultCommandPollMillis,
			EscalationWait:      defaultEscalationWait,
			ErrorBackoffSeconds: defaultErrorBackoffSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
