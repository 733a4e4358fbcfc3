// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package api holds the dependency-free contracts shared by every layer of
// hioload-netloop: structured error kinds, channel lifecycle states and
// readiness bit sets. It imports nothing from the rest of the module so the
// reactor, concurrency and channel packages can all depend on it.
package api
