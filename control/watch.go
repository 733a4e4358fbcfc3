// File: control/watch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File watching for configuration hot reload.

package control

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/hioload-netloop/internal/logging"
)

// Watcher reloads a ConfigStore when its file changes.
type Watcher struct {
	w      *fsnotify.Watcher
	path   string
	store  *ConfigStore
	logger *logging.Logger
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

// WatchFile watches path and applies every successful reload to store.
// The parent directory is watched so that editors replacing the file by
// rename are followed. Failed reloads keep the previous snapshot and are
// logged and reported on Errors.
func WatchFile(path string, store *ConfigStore, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("control: watch %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("control: watch %s: %w", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("control: watch %s: %w", path, err)
	}
	w := &Watcher{
		w:      fw,
		path:   abs,
		store:  store,
		logger: logging.Or(logger),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.store.Reload(w.path); err != nil {
				w.logger.Warning().Str("path", w.path).Err(err).Log("config reload rejected")
				w.report(err)
				continue
			}
			w.logger.Info().Str("path", w.path).Log("config reloaded")
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warning().Str("path", w.path).Err(err).Log("config watch error")
			w.report(err)
		}
	}
}

// report keeps only the most recent undelivered error.
func (w *Watcher) report(err error) {
	select {
	case w.errs <- err:
	default:
		select {
		case <-w.errs:
		default:
		}
		select {
		case w.errs <- err:
		default:
		}
	}
}

// Errors delivers reload and watch failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.w.Close()
		<-w.done
	})
	return err
}
