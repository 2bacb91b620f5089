// Package autosampler drives the carousel autosampler over its serial line.
//
// The controller reports its state as a single status digit, repeated while
// it is alive. A background worker (Run) polls the port, tracks the latest
// Code and the time of last contact, and publishes both to a StatusSink on
// every tick. Commands are single letters optionally followed by a holder
// number; InsertSample and ReturnSample block until the controller reports
// an outcome or the timeout elapses.
package autosampler
