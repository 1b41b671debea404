package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultWatchDebounce collapses the bursts of events editors emit on save.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads configFile whenever it changes and passes the result to
// onChange. The parent directory is watched so atomic renames are seen.
// Invalid files are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, configFile string, onChange func(*Config)) error {
	return watch(ctx, configFile, DefaultWatchDebounce, onChange)
}

func watch(ctx context.Context, configFile string, debounce time.Duration, onChange func(*Config)) error {
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		case <-timer.C:
			cfg, err := LoadConfig(abs)
			if err != nil {
				log.WithError(err).Warnf("config: reload of %s failed", abs)
				continue
			}
			if _, err := ValidateConfig(cfg); err != nil {
				log.WithError(err).Warnf("config: reloaded %s is invalid", abs)
				continue
			}
			log.Infof("config: reloaded %s", abs)
			if onChange != nil {
				onChange(cfg)
			}
		}
	}
}
