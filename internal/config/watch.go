package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Reloader re-reads the configuration file when it changes and notifies the
// manager's watchers. An invalid file is logged and the previous config kept.
type Reloader struct {
	manager  *ConfigManager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// WatchFile starts reloading cm from its config path on change. The parent
// directory is watched so atomic rename-on-save is seen.
func (cm *ConfigManager) WatchFile(debounce time.Duration) (*Reloader, error) {
	path := cm.ConfigPath()
	if path == "" {
		return nil, fmt.Errorf("no config path set")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reloader{
		manager:  cm,
		watcher:  watcher,
		debounce: debounce,
		cancel:   cancel,
	}
	r.wg.Add(1)
	go r.loop(ctx, filepath.Clean(path))
	return r, nil
}

func (r *Reloader) loop(ctx context.Context, path string) {
	defer r.wg.Done()
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.schedule(path)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reloader) schedule(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(r.debounce, func() {
		if err := r.manager.LoadConfig(path); err != nil {
			log.Printf("config reload rejected: %v", err)
		}
	})
}

// Stop ends the watch.
func (r *Reloader) Stop() error {
	r.cancel()
	err := r.watcher.Close()
	r.wg.Wait()
	r.mu.Lock()
	if r.pending != nil {
		r.pending.Stop()
	}
	r.mu.Unlock()
	return err
}
