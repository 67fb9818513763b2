// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wingedpig/burrow/internal/events"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher watches the config file for changes and publishes a reloaded
// config on the event bus. Editors typically write config files with a
// rename or truncate+write sequence, so events are debounced and the watch
// is placed on the parent directory.
type Watcher struct {
	mu       sync.Mutex
	path     string
	loader   *Loader
	bus      events.EventBus
	fs       *fsnotify.Watcher
	onReload func(*Config)
	timer    *time.Timer
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a config watcher for the given file path.
// onReload is called with the freshly loaded config after each change.
func NewWatcher(path string, bus events.EventBus, onReload func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     abs,
		loader:   NewLoader(),
		bus:      bus,
		fs:       fs,
		onReload: onReload,
		closeCh:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.LoadWithDefaults(context.Background(), w.path)
	if err != nil {
		log.Printf("Config reload failed, keeping previous config: %v", err)
		return
	}

	log.Printf("Config reloaded from %s", w.path)

	if w.onReload != nil {
		w.onReload(cfg)
	}

	if w.bus != nil {
		w.bus.Publish(context.Background(), events.Event{
			Type:    events.EventConfigReloaded,
			Payload: map[string]interface{}{"path": w.path},
		})
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.closeCh)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
