package manifest

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DankBSD/InitWare/shared/logger"
)

// Watcher debounces fsnotify activity across every unit-drop-in
// directory, coalescing a burst of writes (a manifest plus its drop-ins
// usually change together) into a single reload — the same half-second
// coalescing window the pack's other fsnotify watcher uses.
type Watcher struct {
	fsw *fsnotify.Watcher
	log logger.Logger
}

// NewWatcher adds every directory in dirs to a fresh fsnotify watcher.
// A directory that doesn't exist yet is skipped rather than failing the
// whole watcher, since drop-in directories are often created lazily.
func NewWatcher(dirs []string, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil && !os.IsNotExist(err) {
			_ = fsw.Close()
			return nil, err
		}
	}

	return &Watcher{fsw: fsw, log: log}, nil
}

// Run blocks, invoking onChange at most once per 500ms burst of
// filesystem activity, until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}, onChange func()) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.NewTimer(500 * time.Millisecond)
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.log.Warn("manifest watch error", logger.Ctx{"error": err.Error()})

		case <-stop:
			_ = w.fsw.Close()
			return
		}
	}
}
