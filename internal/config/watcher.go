package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent is emitted when a watched configuration file changes on disk.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher notifies a lifecycle process when k6s.yaml changes so an operator
// can pick up new boundaries or webhook targets without restarting the
// session (existing AuditLogger and BoundaryEnforcer handles are not
// mutated in place; the caller re-Loads and reconstructs them).
type Watcher struct {
	projectDir string
	logger     *slog.Logger
	events     chan ReloadEvent
}

func NewWatcher(projectDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		projectDir: projectDir,
		logger:     logger,
		events:     make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := fsw.Add(Path(w.projectDir)); err != nil {
		w.logger.Warn("config watcher: k6s.yaml not present yet", "error", err)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
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
