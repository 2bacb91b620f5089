// Package services defines shared utilities consumed by the device drivers
// and the queue orchestrator.
//
// Key responsibilities:
//   - Context helpers that stamp sample IDs, device names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate device
//     failures into consistent sample statuses (failed vs requeued).
package services
