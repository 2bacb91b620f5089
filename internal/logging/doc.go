// Package logging assembles structured slog loggers and formatting helpers used
// across nmrauto.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so device and orchestrator code
// can tag log lines with sample IDs, devices, and run correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, plus a rate-limited warner for the fast polling workers.
package logging
