// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed process configuration loaded from YAML.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/pool"
	"github.com/momentics/hioload-netloop/transport/tcp"
)

// Config is the process configuration. Zero fields take the defaults of
// DefaultConfig when loaded.
type Config struct {
	EventLoops               int           `yaml:"event_loops"`
	SelectStrategy           string        `yaml:"select_strategy"`
	IORatio                  int           `yaml:"io_ratio"`
	MaxTasksPerTick          int           `yaml:"max_tasks_per_tick"`
	RebuildThreshold         int           `yaml:"rebuild_threshold"`
	ConnectTimeout           time.Duration `yaml:"connect_timeout"`
	WriteBufferHighWaterMark int           `yaml:"write_buffer_high_water_mark"`
	WriteBufferLowWaterMark  int           `yaml:"write_buffer_low_water_mark"`
	ReadBufferSize           int           `yaml:"read_buffer_size"`
	Backlog                  int           `yaml:"backlog"`
	// CPUAffinity is the first CPU loops are pinned to; negative disables
	// pinning.
	CPUAffinity int    `yaml:"cpu_affinity"`
	LogLevel    string `yaml:"log_level"`
	Listen      string `yaml:"listen"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		EventLoops:               1,
		SelectStrategy:           "default",
		IORatio:                  concurrency.DefaultIORatio,
		MaxTasksPerTick:          concurrency.DefaultMaxTasksPerTick,
		RebuildThreshold:         concurrency.DefaultRebuildThreshold,
		ConnectTimeout:           channel.DefaultConnectTimeout,
		WriteBufferHighWaterMark: channel.DefaultHighWaterMark,
		WriteBufferLowWaterMark:  channel.DefaultLowWaterMark,
		ReadBufferSize:           pool.DefaultBufferSize,
		Backlog:                  tcp.DefaultBacklog,
		CPUAffinity:              -1,
		LogLevel:                 "info",
		Listen:                   "127.0.0.1:7007",
	}
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("control: read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("control: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, api.Wrap(api.ErrInvalidArgument, err).WithContext("stage", "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	invalid := func(field string, value any) error {
		return api.ErrInvalidArgument.WithContext("field", field).WithContext("value", value)
	}
	switch {
	case c.EventLoops <= 0:
		return invalid("event_loops", c.EventLoops)
	case c.IORatio <= 0 || c.IORatio > 100:
		return invalid("io_ratio", c.IORatio)
	case c.MaxTasksPerTick < 0:
		return invalid("max_tasks_per_tick", c.MaxTasksPerTick)
	case c.RebuildThreshold < 0:
		return invalid("rebuild_threshold", c.RebuildThreshold)
	case c.ConnectTimeout < 0:
		return invalid("connect_timeout", c.ConnectTimeout)
	case c.WriteBufferLowWaterMark < 0 || c.WriteBufferHighWaterMark < c.WriteBufferLowWaterMark:
		return invalid("write_buffer_water_mark", fmt.Sprintf("%d/%d", c.WriteBufferLowWaterMark, c.WriteBufferHighWaterMark))
	case c.ReadBufferSize <= 0:
		return invalid("read_buffer_size", c.ReadBufferSize)
	case c.Backlog <= 0:
		return invalid("backlog", c.Backlog)
	}
	if _, ok := concurrency.StrategyByName(c.SelectStrategy); !ok {
		return invalid("select_strategy", c.SelectStrategy)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel)
	}
	return nil
}

// LoopOptions translates the loop fields. name may be empty.
func (c *Config) LoopOptions(name string) []concurrency.LoopOption {
	strategy, _ := concurrency.StrategyByName(c.SelectStrategy)
	opts := []concurrency.LoopOption{
		concurrency.WithSelectStrategy(strategy),
		concurrency.WithIORatio(c.IORatio),
		concurrency.WithMaxTasksPerTick(c.MaxTasksPerTick),
		concurrency.WithRebuildThreshold(c.RebuildThreshold),
	}
	if name != "" {
		opts = append(opts, concurrency.WithName(name))
	}
	return opts
}

// GroupOptions returns options for an EventLoopGroup of EventLoops loops.
func (c *Config) GroupOptions(name string) []concurrency.GroupOption {
	opts := []concurrency.GroupOption{
		concurrency.WithGroupName(name),
		concurrency.WithLoopOptions(c.LoopOptions("")...),
	}
	if c.CPUAffinity >= 0 {
		opts = append(opts, concurrency.WithGroupCPUBase(c.CPUAffinity))
	}
	return opts
}

// ChannelOptions translates the channel fields.
func (c *Config) ChannelOptions() []channel.Option {
	return []channel.Option{
		channel.WithConnectTimeout(c.ConnectTimeout),
		channel.WithWriteBufferWaterMark(c.WriteBufferLowWaterMark, c.WriteBufferHighWaterMark),
	}
}

// TCPOptions translates the transport fields. Channel options apply to both
// client and accepted channels.
func (c *Config) TCPOptions() []tcp.Option {
	chOpts := c.ChannelOptions()
	return []tcp.Option{
		tcp.WithBacklog(c.Backlog),
		tcp.WithReadBufferSize(c.ReadBufferSize),
		tcp.WithChannelOptions(chOpts...),
		tcp.WithChildOptions(chOpts...),
	}
}

// Logger builds a JSON logger at LogLevel.
func (c *Config) Logger(w io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level), nil
}
