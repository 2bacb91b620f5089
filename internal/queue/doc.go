// Package queue persists the measurement queue and the shared instrument
// state in SQLite.
//
// The Store is the single source of truth the daemon and the operator tools
// share: samples and their lifecycle, the shimming singleton, the queue run
// flag, the mirrored autosampler status, the live device configuration, and
// the operator command inbox. Nothing here is cached client side; every
// reader goes back to the database.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
