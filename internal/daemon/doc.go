// Package daemon coordinates the long-running nmrauto process.
//
// It wires configuration, the queue store, both device drivers, the
// evaluation runner, and the workflow loops into a single lifecycle with
// flock-based locking so only one orchestrator drives the hardware. The
// daemon also owns the operator command inbox, live device settings, udev
// hotplug of the autosampler tty, and the HTTP status API.
//
// Keep orchestration logic in internal/workflow: the daemon focuses on
// startup, shutdown, and wiring.
package daemon
