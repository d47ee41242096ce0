package state

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// DefaultWatchDebounce coalesces the burst of events one atomic write
// produces (temp create, write, rename).
const DefaultWatchDebounce = 50 * time.Millisecond

// Change reports that a state file was rewritten or removed.
type Change struct {
	Key  paths.FileKey
	Path string
	Op   fsnotify.Op
}

// Watcher delivers debounced Change notifications for one run's state
// directory. Temp files and lock files are ignored.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	files    map[string]paths.FileKey
	onChange func(Change)
	debounce time.Duration
	logger   *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching the state directory of runID ("" for legacy) and
// calls onChange from a single goroutine until Stop. Watching an unknown run
// fails with ErrRunNotFound.
func (s *Store) Watch(runID string, onChange func(Change)) (*Watcher, error) {
	if runID != "" {
		if err := paths.ValidateRunID(runID); err != nil {
			return nil, err
		}
		if _, err := os.Stat(s.paths.RunDir(runID)); err != nil {
			return nil, errors.NewNotFoundError("run", runID).WithCause(errors.ErrRunNotFound)
		}
	}
	dir := s.paths.StateDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create state dir %s", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}

	files := make(map[string]paths.FileKey, len(paths.CollectionKeys))
	for _, key := range paths.CollectionKeys {
		files[key.FileName()] = key
	}

	w := &Watcher{
		watcher:  fw,
		dir:      dir,
		files:    files,
		onChange: onChange,
		debounce: DefaultWatchDebounce,
		logger:   s.logger.WithRun(runID).WithComponent("watch"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Stop ends the watch and waits for the delivery goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	timer := time.NewTimer(0)
	<-timer.C

	pending := make(map[paths.FileKey]Change)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := w.files[filepath.Base(event.Name)]
			if !ok {
				continue
			}
			c := pending[key]
			c.Key = key
			c.Path = event.Name
			c.Op |= event.Op
			pending[key] = c
			timer.Reset(w.debounce)

		case <-timer.C:
			changes := pending
			pending = make(map[paths.FileKey]Change)
			for _, key := range paths.CollectionKeys {
				if c, ok := changes[key]; ok {
					w.onChange(c)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", "dir", w.dir, "error", err)
		}
	}
}
