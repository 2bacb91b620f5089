package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"nmrauto/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Data.DataFolder = filepath.Join(base, "data")
	cfgVal.Autosampler.Port = filepath.Join(base, "ttyFAKE0")
	cfgVal.Autosampler.Hotplug = false
	cfgVal.Spectrometer.ConnectAttempts = 1
	cfgVal.Spectrometer.ConnectRetryDelay = 0
	cfgVal.Workflow.EscalationWait = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSpectrometer points the config at a host and port, usually a FakeSpectrometer.
func WithSpectrometer(host string, port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Spectrometer.Host = host
		b.cfg.Spectrometer.Port = port
	}
}

// WithEvalTool writes a stub evaluation tool script and points the config at
// its folder. The script prints its arguments and then result.
func WithEvalTool(result string) ConfigOption {
	return func(b *configBuilder) {
		toolDir := filepath.Join(b.baseDir, "tools")
		if err := os.MkdirAll(toolDir, 0o755); err != nil {
			b.t.Fatalf("mkdir tool dir: %v", err)
		}
		script := []byte("#!/bin/sh\necho \"$@\"\necho '" + result + "'\n")
		target := filepath.Join(toolDir, b.cfg.Data.EvalToolName)
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write eval stub: %v", err)
		}
		b.cfg.Data.EvalToolFolder = toolDir
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
