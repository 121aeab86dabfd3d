package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bodystore/pkg/observability"
)

// Watch reloads path whenever it changes and hands the parsed result to
// onChange. It blocks until ctx is done. A file that fails to parse is logged
// and skipped.
//
// The containing directory is watched rather than the file so that editors
// and config-map mounts which replace the file by rename are picked up.
func Watch(ctx context.Context, path string, logger logrus.FieldLogger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	logger = logger.WithField("config_file", target)
	logger.Info("Watching configuration file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := LoadFile(target)
			if err != nil {
				logger.WithError(err).Warn("Ignoring unreadable configuration change")
				continue
			}
			logger.Debug("Configuration file reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Configuration watcher error")
		}
	}
}

// ApplyLogLevel returns an onChange callback that updates logger's level
// from the reloaded configuration.
func ApplyLogLevel(logger *logrus.Logger) func(*Config) {
	return func(cfg *Config) {
		level := observability.ParseLevel(cfg.Observability.LogLevel)
		if level == logger.GetLevel() {
			return
		}
		logger.SetLevel(level)
		logger.WithField("level", level.String()).Info("Log level changed")
	}
}
