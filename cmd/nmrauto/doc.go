// Package main hosts the nmrauto CLI entrypoint and command graph.
//
// Operators edit the sample queue directly in the SQLite store and reach the
// daemon through its command inbox: device jogs, queue start and abort are
// enqueued as commands and the CLI waits for the daemon to record an outcome.
// The status command prefers the daemon's HTTP status endpoint and falls back
// to what the store alone can tell.
package main
