package preflight

import (
	"context"

	"nmrauto/internal/config"
	"nmrauto/internal/queue"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the environment checks. When devices is non-nil its live
// settings replace the config file values.
func RunAll(_ context.Context, cfg *config.Config, devices *queue.DeviceConfig) []Result {
	if cfg == nil {
		return nil
	}

	port := cfg.Autosampler.Port
	dataFolder := cfg.Data.DataFolder
	toolFolder := cfg.Data.EvalToolFolder
	if devices != nil {
		port = devices.AutosamplerPort
		dataFolder = devices.DataFolder
		toolFolder = devices.EvalToolFolder
	}

	return []Result{
		CheckDirectoryAccess("Data folder", dataFolder),
		CheckSerialDevice(port),
		CheckEvalTool(toolFolder, cfg.Data.EvalToolName),
	}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
