package clioconfig

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads config.json whenever it changes and delivers the parsed
// result to onChange. instructions.md edits also trigger onChange with the
// current (re-read) config so prompt assembly picks the file up. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	interesting := map[string]bool{
		"config.json":     true,
		"instructions.md": true,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !interesting[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(dir)
			if err != nil {
				logger.Warn("config reload failed", "path", event.Name, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", event.Name)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
