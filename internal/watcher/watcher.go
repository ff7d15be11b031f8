// Package watcher notices when imported source files change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

type Watcher interface {
	Watch(path string) error
	Unwatch(path string)
	OnChange(callback func(path string, event EventType))
}

type fileState struct {
	refs    int
	exists  bool
	size    int64
	modTime time.Time
}

// PollWatcher stats watched paths on an interval. A path watched twice must
// be unwatched twice.
type PollWatcher struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	files    map[string]*fileState
	callback func(path string, event EventType)
}

func NewPollWatcher(interval time.Duration, logger *slog.Logger) *PollWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollWatcher{
		interval: interval,
		logger:   logger,
		files:    make(map[string]*fileState),
	}
}

func (w *PollWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st, ok := w.files[path]; ok {
		st.refs++
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.files[path] = &fileState{refs: 1, exists: true, size: info.Size(), modTime: info.ModTime()}
	return nil
}

func (w *PollWatcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.files[path]
	if !ok {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(w.files, path)
	}
}

func (w *PollWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Len returns the number of distinct watched paths.
func (w *PollWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

// Run scans until ctx is done.
func (w *PollWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan()
		}
	}
}

type change struct {
	path  string
	event EventType
}

// Scan stats every watched path once and reports what changed since the
// previous scan. Callbacks run after the lock is released.
func (w *PollWatcher) Scan() {
	w.mu.Lock()
	var changes []change
	for path, st := range w.files {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if st.exists {
				st.exists = false
				changes = append(changes, change{path, EventDelete})
			}
		case err != nil:
			w.logger.Debug("stat failed", "path", path, "error", err)
		case !st.exists:
			st.exists, st.size, st.modTime = true, info.Size(), info.ModTime()
			changes = append(changes, change{path, EventCreate})
		case info.Size() != st.size || !info.ModTime().Equal(st.modTime):
			st.size, st.modTime = info.Size(), info.ModTime()
			changes = append(changes, change{path, EventModify})
		}
	}
	cb := w.callback
	w.mu.Unlock()

	if cb == nil {
		return
	}
	for _, c := range changes {
		w.logger.Info("source changed", "path", c.path, "event", c.event.String())
		cb(c.path, c.event)
	}
}
