package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of write events one editor save
// tends to generate, mirroring cmd/bd's show-watch debounce idiom.
const watchDebounce = 200 * time.Millisecond

// Watch reloads configPath on every write and calls onReload with the
// freshly parsed Config. Only log level and the consolidation/embedding
// timings are meant to be live-reloadable (spec §6's knob list); callers
// that need a restart-only knob (db path, vector backend) should ignore
// changes to those fields rather than act on them mid-process. Watch
// blocks until stop is closed or the watcher errors unrecoverably.
func Watch(configPath string, log *slog.Logger, onReload func(*Config), stop <-chan struct{}) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(configPath)
		if err != nil {
			log.Warn("config: reload failed, keeping previous config", "error", err)
			return
		}
		log.Info("config: reloaded", "path", configPath)
		onReload(cfg)
	}

	for {
		select {
		case <-stop:
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config: watcher error", "error", err)
		}
	}
}
