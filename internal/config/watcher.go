package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and publishes each
// valid revision. Invalid revisions are logged and skipped.
type Watcher struct {
	path    string
	logger  *slog.Logger
	reloads chan *Config
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		reloads: make(chan *Config, 4),
	}
}

func (w *Watcher) Reloads() <-chan *Config {
	return w.reloads
}

// Start watches the config file's directory so editors that replace the file
// by rename are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	target := filepath.Clean(w.path)

	go func() {
		defer fsw.Close()
		defer close(w.reloads)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config reload rejected", "path", w.path, "error", err)
					continue
				}
				select {
				case w.reloads <- cfg:
				default:
				}
				w.logger.Info("config reloaded", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
