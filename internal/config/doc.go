// Package config loads, normalizes, and validates nmrauto configuration data.
//
// The TOML file only bootstraps the daemon: where the queue database, log
// file, and lock live, how to log, loop cadences, and the initial device
// settings. The device settings (autosampler port, spectrometer address,
// data and evaluation folders) are copied into the queue store on first
// start; from then on the store row is authoritative so operators can change
// it while the daemon runs.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, positive intervals, and clear validation errors.
package config
