// File: internal/cli/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package cli implements the netloop-echo command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-netloop/control"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the netloop-echo root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "netloop-echo",
		Short:         "Echo server and client on the netloop engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (trace|debug|info|warning|error|off)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	return cmd
}

// load returns the file configuration, or the defaults without a file,
// with the log level override applied.
func (o *RootOptions) load() (*control.Config, error) {
	cfg := control.DefaultConfig()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = control.Load(o.ConfigPath); err != nil {
			return nil, err
		}
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
