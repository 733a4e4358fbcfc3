// Package control holds the runtime configuration of a netloop process and
// the registries its components report into.
//
// Config is loaded from YAML, defaulted and validated, then translated into
// event loop, channel and transport options. ConfigStore keeps the current
// snapshot and runs reload hooks; WatchFile reloads it when the file
// changes. MetricsRegistry and DebugProbes receive loop counters and probes.
package control
