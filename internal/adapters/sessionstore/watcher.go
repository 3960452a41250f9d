package sessionstore

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// FSWatcher implements ports.StoreWatcher using fsnotify. It watches the
// directory holding the session database and reports writes to the database
// file, so a running engine can notice when another process (a second tab in
// the original client) rewrote the persisted session. Last write wins; the
// watcher only makes the race observable.
type FSWatcher struct {
	watcher  *fsnotify.Watcher
	filePath string
	log      *logger.Logger
}

// NewFSWatcher creates a watcher for the given store file.
func NewFSWatcher(filePath string, log *logger.Logger) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FSWatcher{
		watcher:  w,
		filePath: filepath.Clean(filePath),
		log:      log,
	}, nil
}

// Watch starts monitoring the store file and emits events until ctx is done.
func (w *FSWatcher) Watch(ctx context.Context) (<-chan ports.StoreEvent, error) {
	// Watch the directory, not the file: SQLite replaces files during WAL
	// checkpoints and a file-level watch would go stale.
	if err := w.watcher.Add(filepath.Dir(w.filePath)); err != nil {
		return nil, err
	}

	events := make(chan ports.StoreEvent, 16)

	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.isStoreFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				select {
				case events <- ports.StoreEvent{Path: event.Name}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("store watcher error", "error", err)
			}
		}
	}()

	return events, nil
}

// Stop stops the watcher.
func (w *FSWatcher) Stop() error {
	return w.watcher.Close()
}

// isStoreFile matches the database file and its WAL/journal side files.
func (w *FSWatcher) isStoreFile(path string) bool {
	path = filepath.Clean(path)
	if path == w.filePath {
		return true
	}
	switch path {
	case w.filePath + "-wal", w.filePath + "-journal":
		return true
	}
	return false
}
