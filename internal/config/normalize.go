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
	c.normalizeAutosampler()
	c.normalizeSpectrometer()
	if err := c.normalizeData(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeAutosampler() {
	if value, ok := os.LookupEnv(autosamplerPortEnv); ok && strings.TrimSpace(value) != "" {
		c.Autosampler.Port = value
	}
	c.Autosampler.Port = strings.TrimSpace(c.Autosampler.Port)
	if c.Autosampler.BaudRate <= 0 {
		c.Autosampler.BaudRate = defaultAutosamplerBaudRate
	}
	if c.Autosampler.StatusPollMillis <= 0 {
		c.Autosampler.StatusPollMillis = defaultStatusPollMillis
	}
}

func (c *Config) normalizeSpectrometer() {
	if value, ok := os.LookupEnv(spectrometerHostEnv); ok && strings.TrimSpace(value) != "" {
		c.Spectrometer.Host = value
	}
	c.Spectrometer.Host = strings.TrimSpace(c.Spectrometer.Host)
	if c.Spectrometer.DialTimeout <= 0 {
		c.Spectrometer.DialTimeout = defaultDialTimeout
	}
	if c.Spectrometer.ConnectAttempts <= 0 {
		c.Spectrometer.ConnectAttempts = 1
	}
}

func (c *Config) normalizeData() error {
	var err error
	if c.Data.DataFolder, err = expandPath(strings.TrimSpace(c.Data.DataFolder)); err != nil {
		return fmt.Errorf("data.data_folder: %w", err)
	}
	if c.Data.EvalToolFolder, err = expandPath(strings.TrimSpace(c.Data.EvalToolFolder)); err != nil {
		return fmt.Errorf("data.eval_tool_folder: %w", err)
	}
	c.Data.EvalToolName = strings.TrimSpace(c.Data.EvalToolName)
	if c.Data.EvalToolName == "" {
		c.Data.EvalToolName = defaultEvalToolName
	}
	if c.Data.EvalTimeout <= 0 {
		c.Data.EvalTimeout = defaultEvalTimeout
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.CommandPollMillis <= 0 {
		c.Workflow.CommandPollMillis = defaultCommandPollMillis
	}
	if c.Workflow.ErrorBackoffSeconds <= 0 {
		c.Workflow.ErrorBackoffSeconds = defaultErrorBackoffSeconds
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
