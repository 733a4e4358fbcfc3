// File: control/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe configuration snapshot with reload hooks.

package control

import (
	"sync"
	"sync/atomic"
)

// ReloadHook observes a configuration change. prev is never nil.
type ReloadHook func(prev, next *Config)

// ConfigStore holds the current configuration. Snapshots are immutable:
// callers must not modify the returned *Config.
type ConfigStore struct {
	current atomic.Pointer[Config]

	mu    sync.Mutex
	hooks []ReloadHook
}

// NewConfigStore starts from cfg, or DefaultConfig when cfg is nil.
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &ConfigStore{}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot.
func (s *ConfigStore) Current() *Config {
	return s.current.Load()
}

// OnReload registers fn. Hooks run synchronously, in registration order,
// on the goroutine applying the update.
func (s *ConfigStore) OnReload(fn ReloadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Update validates cfg, installs it and runs the hooks. An invalid cfg
// leaves the current snapshot in place.
func (s *ConfigStore) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Swap(cfg)
	for _, fn := range s.hooks {
		fn(prev, cfg)
	}
	return nil
}

// Reload loads path and applies it with Update.
func (s *ConfigStore) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	return s.Update(cfg)
}
