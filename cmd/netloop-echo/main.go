// File: cmd/netloop-echo/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Command netloop-echo runs an echo server or client on the netloop engine.
package main

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-netloop/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "netloop-echo:", err)
		os.Exit(1)
	}
}
