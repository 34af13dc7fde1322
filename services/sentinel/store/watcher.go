// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce collapses bursts of file events into one callback.
// Ingestion rewrites the store with many writes followed by a rename; one
// invalidation at the end is enough.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher invalidates store caches when the case store file changes.
//
// Description:
//
//	Watches the parent directory rather than the file itself, because
//	ingestion replaces the store by atomic rename and a watch on the old
//	inode would go silent after the first swap. Events for other files in
//	the directory are ignored.
//
// Thread Safety: Safe for concurrent use. Close may be called once.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchFile starts watching the given file and calls onChange after each
// debounced burst of changes.
//
// Inputs:
//   - path: The file to watch. The parent directory must exist.
//   - debounce: Quiet period before onChange fires. 0 selects
//     DefaultWatchDebounce.
//   - onChange: Called from a background goroutine after changes settle.
//     Must be safe for concurrent use.
//
// Outputs:
//   - *Watcher: The running watcher.
//   - error: Non-nil if the directory watch cannot be established.
func WatchFile(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: watch callback must not be nil")
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolving watch path %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("store: creating file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("store: watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		fsw:  fsw,
		done: make(chan struct{}),
	}
	go w.loop(abs, debounce, onChange)

	slog.Info("case store watcher started", slog.String("path", abs))
	return w, nil
}

// Close stops the watcher. Pending debounced callbacks may still fire.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// loop consumes file events until the watcher is closed.
func (w *Watcher) loop(path string, debounce time.Duration, onChange func()) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			slog.Debug("case store file changed",
				slog.String("path", path),
				slog.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.AfterFunc(debounce, onChange)
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("case store watcher error", slog.String("error", err.Error()))
		}
	}
}
