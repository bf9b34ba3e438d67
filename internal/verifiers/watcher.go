package verifiers

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the custom verifier bindings when the verifiers directory
// changes. Events are debounced so a batch of file writes triggers one
// reload.
type Watcher struct {
	dir     string
	runner  *Runner
	pool    *WorkerPool
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher starts watching dir. The initial load is the caller's job; the
// watcher only handles subsequent changes.
func NewWatcher(dir string, runner *Runner, pool *WorkerPool, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		dir:     dir,
		runner:  runner,
		pool:    pool,
		logger:  logger,
		watcher: fsw,
		stop:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("verifier watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	bindings, err := LoadCustomDir(w.dir, w.pool, w.logger)
	if err != nil {
		w.logger.Warn("verifier reload failed", "dir", w.dir, "error", err)
		return
	}
	w.runner.SetCustom(bindings)
	w.logger.Info("custom verifiers reloaded", "dir", w.dir, "tools", len(bindings))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
