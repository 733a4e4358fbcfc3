// File: internal/cli/ping.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/transport/tcp"
)

// PingOptions holds flags for the ping command.
type PingOptions struct {
	*RootOptions
	Addr    string
	Count   int
	Size    int
	Timeout time.Duration
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PingOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send payloads to an echo server and report round trips",
		Long: `Connect to an echo server, send --count payloads of --size bytes one at
a time and print the round trip of each.

Example:
  netloop-echo ping --addr 127.0.0.1:7007 --count 10 --size 256`,
		Args: cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if opts.Count <= 0 || opts.Size <= 0 {
				return api.ErrInvalidArgument.WithContext("reason", "count and size must be positive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunPing(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "server address (defaults to the config listen address)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 4, "payloads to send")
	cmd.Flags().IntVar(&opts.Size, "size", 64, "payload size in bytes")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall deadline")
	return cmd
}

// RunPing runs one ping session and writes a report to out.
func RunPing(ctx context.Context, opts *PingOptions, out, logOut io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Listen
	}
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	loop, err := concurrency.NewEventLoop(append(cfg.LoopOptions("client"), concurrency.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("ping: loop: %w", err)
	}
	defer shutdown(loop)

	h := newEchoClientHandler(opts.Size, opts.Count)
	ch, err := tcp.Dial(ctx, loop, addr, h, cfg.TCPOptions()...)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		ch.Close()
		return fmt.Errorf("ping %s: %w", addr, ctx.Err())
	}
	_ = ch.CloseFuture().Await(ctx)

	r := h.snapshot()
	for i, rtt := range r.RTTs {
		fmt.Fprintf(out, "%d bytes from %s: seq=%d time=%s\n", opts.Size, addr, i+1, rtt)
	}
	fmt.Fprintf(out, "%d sent, %d received\n", r.Sent, r.Received)
	if r.Err != nil {
		return fmt.Errorf("ping %s: %w", addr, r.Err)
	}
	if r.Received < opts.Count {
		return fmt.Errorf("ping %s: connection closed after %d of %d replies", addr, r.Received, opts.Count)
	}
	return nil
}
