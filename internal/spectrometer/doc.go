// Package spectrometer drives the benchtop spectrometer over its TCP remote
// control interface.
//
// Requests are XML envelopes written to the socket. The spectrometer answers
// with a stream of XML status documents that may arrive concatenated or split
// across reads; Decoder re-segments them. The listener worker (Run) folds
// progress and completion notices into the driver status, which Shim and
// MeasureSample poll while they wait for an outcome.
package spectrometer
