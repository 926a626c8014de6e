package config

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reports changes to a single file. It watches the parent
// directory so replacements by rename are seen too.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *log.Logger
}

func NewFileWatcher(path string, logger *log.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FileWatcher{watcher: w, path: abs, logger: logger}, nil
}

// Run calls onChange for every write, create or rename onto the file until
// ctx is done or the watcher is closed.
func (w *FileWatcher) Run(ctx context.Context, onChange func(path string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			onChange(w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch %s: %v", w.path, err)
		}
	}
}

func (w *FileWatcher) Close() error {
	return w.watcher.Close()
}
