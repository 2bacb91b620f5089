// Package preflight provides readiness checks for the filesystem paths and
// devices nmrauto depends on.
//
// The daemon logs failed checks at startup; "nmrauto status" prints all of
// them. Checks never fail the caller: a missing tty only means the
// autosampler will be connected later by hotplug or an operator.
package preflight
