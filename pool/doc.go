// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reusable read buffers for transports. Buffers travel through channel
// pipelines as releasable messages and return to their pool on Release.
package pool
