// File: internal/cli/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-netloop/adapters"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/control"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/transport/tcp"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	Workers int
	Watch   bool
	Trace   bool

	// Ready, when set, receives the bound address once the server listens.
	Ready func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		Long: `Run a TCP echo server. One boss loop accepts connections and hands
them to a group of worker loops.

Example:
  netloop-echo serve --listen 0.0.0.0:7007 --workers 4
  netloop-echo serve -c netloop.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunServe(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker event loops (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload the config file on change")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "log every event of accepted channels")
	return cmd
}

// RunServe serves until ctx is done or the server channel closes.
func RunServe(ctx context.Context, opts *ServeOptions, out, logOut io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Workers > 0 {
		cfg.EventLoops = opts.Workers
	}
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	control.RegisterRuntimeProbes(probes)

	boss, err := concurrency.NewEventLoop(append(cfg.LoopOptions("boss"),
		concurrency.WithLogger(logger),
		concurrency.WithMetrics(metrics),
	)...)
	if err != nil {
		return fmt.Errorf("serve: boss loop: %w", err)
	}
	workers, err := concurrency.NewEventLoopGroup(cfg.EventLoops, append(cfg.GroupOptions("worker"),
		concurrency.WithLoopOptions(concurrency.WithLogger(logger), concurrency.WithMetrics(metrics)),
	)...)
	if err != nil {
		shutdown(boss)
		return fmt.Errorf("serve: worker loops: %w", err)
	}
	workers.RegisterProbes(probes)
	defer func() {
		shutdown(workers, boss)
		logger.Debug().Any("metrics", metrics.GetSnapshot()).Any("probes", probes.DumpState()).Log("final state")
	}()

	traffic := adapters.NewMetricsHandler(metrics, "echo")
	childInit := channel.NewInitializer(func(ch *channel.Channel) error {
		p := ch.Pipeline()
		if opts.Trace {
			if err := p.AddLast("trace", adapters.NewLoggingHandler(logger, logiface.LevelInformational)); err != nil {
				return err
			}
		}
		if err := p.AddLast("metrics", traffic); err != nil {
			return err
		}
		return p.AddLast("echo", echoServerHandler{})
	})

	server, err := tcp.Listen(ctx, boss, workers, cfg.Listen, childInit, append(cfg.TCPOptions(),
		tcp.WithServerHandler(adapters.NewLoggingHandler(logger, logiface.LevelInformational)),
	)...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "listening on %s\n", server.LocalAddr())
	if opts.Ready != nil {
		opts.Ready(server.LocalAddr())
	}

	if opts.Watch && opts.ConfigPath != "" {
		store := control.NewConfigStore(cfg)
		store.OnReload(func(prev, next *control.Config) {
			if prev.Listen != next.Listen || prev.EventLoops != next.EventLoops {
				logger.Warning().Str("listen", next.Listen).Int("event_loops", next.EventLoops).
					Log("listen address and loop count apply on restart")
			}
		})
		w, err := control.WatchFile(opts.ConfigPath, store, logger)
		if err != nil {
			server.Close()
			return err
		}
		defer w.Close()
	}

	select {
	case <-ctx.Done():
		logger.Info().Log("shutting down")
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_, _ = server.Close().Get(closeCtx)
	case <-server.CloseFuture().Done():
		logger.Warning().Log("server channel closed")
	}
	return nil
}

type shutdowner interface {
	ShutdownGracefully(ctx context.Context) error
}

func shutdown(targets ...shutdowner) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, t := range targets {
		_ = t.ShutdownGracefully(ctx)
	}
}
