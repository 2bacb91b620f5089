// Package workflow runs measurement queues on the instrument pair.
//
// The Orchestrator is the single consumer of the sample queue. Each tick it
// checks that both devices are connected and the autosampler is idle, picks
// the next sample (a Running leftover from a crash before the lowest Queued
// id), inserts it, runs a shim cascade or a measurement, records the outcome,
// hands finished spectra to the evaluation hook, and returns the tube unless
// the next sample sits in the same holder. The store's QueueStat flag is the
// only cancellation signal; operators clear it to stop a run.
//
// The ProgressMirror copies spectrometer progress into the store so the
// dashboard can show it. Both loops run under Supervise, which logs errors and
// panics and keeps going after a short backoff.
package workflow
