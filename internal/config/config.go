package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
}

// Autosampler contains the serial line settings for the sample changer.
type Autosampler struct {
	Port          string `toml:"port"`
	BaudRate      int    `toml:"baud_rate"`
	InsertTimeout int    `toml:"insert_timeout"`
	ReturnTimeout int    `toml:"return_timeout"`
	// StatusPollMillis is the cadence of the status reader.
	StatusPollMillis int `toml:"status_poll_ms"`
	// Hotplug enables udev monitoring of the configured tty.
	Hotplug bool `toml:"hotplug"`
}

// Spectrometer contains the socket settings for the spectrometer software.
type Spectrometer struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	DialTimeout       int    `toml:"dial_timeout"`
	ConnectAttempts   int    `toml:"connect_attempts"`
	ConnectRetryDelay int    `toml:"connect_retry_delay"`
}

// Data contains the measurement output and evaluation tool locations.
type Data struct {
	DataFolder     string `toml:"data_folder"`
	EvalToolFolder string `toml:"eval_tool_folder"`
	EvalToolName   string `toml:"eval_tool_name"`
	EvalTimeout    int    `toml:"eval_timeout"`
}

// Workflow contains daemon loop cadences.
type Workflow struct {
	TickInterval        int `toml:"tick_interval"`
	ProgressInterval    int `toml:"progress_interval"`
	CommandPollMillis   int `toml:"command_poll_ms"`
	EscalationWait      int `toml:"escalation_wait"`
	ErrorBackoffSeconds int `toml:"error_backoff"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for nmrauto.
//
// Configuration sections by subsystem:
//   - Paths: state directory (queue.db, log, lock) and API bind address
//   - Autosampler: serial port and insert/return timeouts
//   - Spectrometer: socket address and auto-connect policy
//   - Data: measurement folder and external evaluation tool
//   - Workflow: orchestrator and mirror cadences
//   - Logging: log format and level
type Config struct {
	Paths        Paths        `toml:"paths"`
	Autosampler  Autosampler  `toml:"autosampler"`
	Spectrometer Spectrometer `toml:"spectrometer"`
	Data         Data         `toml:"data"`
	Workflow     Workflow     `toml:"workflow"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/nmrauto/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("nmrauto.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.StateDir, err)
	}
	return nil
}

// EnsureDataFolder creates the measurement data folder. The folder usually
// lives on the spectrometer host's share, so callers decide whether a
// failure is fatal. An empty folder setting is not an error.
func (c *Config) EnsureDataFolder() error {
	folder := strings.TrimSpace(c.Data.DataFolder)
	if folder == "" {
		return nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create data folder %q: %w", folder, err)
	}
	return nil
}

// DatabasePath returns the SQLite queue database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "nmrautod.log")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "nmrautod.lock")
}

// TickInterval returns the orchestrator cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Workflow.TickInterval) * time.Second
}

// ProgressInterval returns the progress mirror cadence.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Workflow.ProgressInterval) * time.Second
}

// CommandPollInterval returns the operator command inbox cadence.
func (c *Config) CommandPollInterval() time.Duration {
	return time.Duration(c.Workflow.CommandPollMillis) * time.Millisecond
}

// StatusPollInterval returns the autosampler status reader cadence.
func (c *Config) StatusPollInterval() time.Duration {
	return time.Duration(c.Autosampler.StatusPollMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
