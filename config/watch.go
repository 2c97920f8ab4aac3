package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the file at path whenever it is written or replaced and
// passes every valid configuration to onChange. The parent directory is
// watched so editors that save by rename are picked up. Watch blocks until
// ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warn("Config watcher: ", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Reload(abs)
			if err != nil {
				logrus.Warn("[ CONFIG_RELOAD ] ignoring invalid config: ", err)
				continue
			}
			logrus.Info("[ CONFIG_RELOAD ] path: ", abs)
			onChange(cfg)
		}
	}
}

// Reload loads and validates the file at path. Command line arguments are not
// reapplied, so a file that relies on a host given on the command line fails
// with ErrHost.
func Reload(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, ErrHost) {
			return nil, fmt.Errorf("%w (command line arguments are not reapplied on reload, set host in %s)", err, path)
		}
		return nil, err
	}
	return cfg, nil
}
