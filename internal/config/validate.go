package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalid marks configuration values that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAutosampler(); err != nil {
		return err
	}
	if err := c.validateSpectrometer(); err != nil {
		return err
	}
	if err := c.validateData(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return invalid("paths.state_dir must be set")
	}
	if c.Paths.APIBind != "" {
		if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
			return invalid("paths.api_bind %q: %v", c.Paths.APIBind, err)
		}
	}
	return nil
}

func (c *Config) validateAutosampler() error {
	if c.Autosampler.InsertTimeout <= 0 {
		return invalid("autosampler.insert_timeout must be positive")
	}
	if c.Autosampler.ReturnTimeout <= 0 {
		return invalid("autosampler.return_timeout must be positive")
	}
	return nil
}

func (c *Config) validateSpectrometer() error {
	if c.Spectrometer.Host == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/nmrauto/config.toml"
		}
		return invalid("spectrometer.host is required. Set %s or edit %s (create with '%s')", spectrometerHostEnv, defaultPath, defaultConfigCreateCommand)
	}
	if c.Spectrometer.Port <= 0 || c.Spectrometer.Port > 65535 {
		return invalid("spectrometer.port must be between 1 and 65535")
	}
	if c.Spectrometer.ConnectRetryDelay < 0 || c.Spectrometer.ConnectRetryDelay > defaultMaxConnectRetryDelay {
		return invalid("spectrometer.connect_retry_delay must be between 0 and %d", defaultMaxConnectRetryDelay)
	}
	return nil
}

func (c *Config) validateData() error {
	if c.Data.DataFolder == "" {
		return invalid("data.data_folder must be set")
	}
	if c.Data.EvalTimeout > defaultMaxEvalTimeout {
		return invalid("data.eval_timeout must not exceed %d seconds", defaultMaxEvalTimeout)
	}
	if strings.ContainsAny(c.Data.EvalToolName, `/\`) {
		return invalid("data.eval_tool_name must be a bare file name, got %q", c.Data.EvalToolName)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.TickInterval <= 0 {
		return invalid("workflow.tick_interval must be positive")
	}
	if c.Workflow.ProgressInterval <= 0 {
		return invalid("workflow.progress_interval must be positive")
	}
	if c.Workflow.EscalationWait < 0 {
		return invalid("workflow.escalation_wait must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return invalid("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}
