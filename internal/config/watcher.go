package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ListKind names one of the reloadable list files.
type ListKind string

const (
	ListDeny  ListKind = "deny"
	ListPeers ListKind = "peers"
	ListWords ListKind = "words"
)

const reloadDebounce = 500 * time.Millisecond

// ListWatcher reloads list files when they change on disk.
type ListWatcher struct {
	files    map[string]ListKind
	fold     map[ListKind]bool
	log      *slog.Logger
	onChange func(ListKind, []string)
	debounce time.Duration
}

// NewListWatcher watches the list files named by cfg. onChange runs on the
// watcher goroutine with the freshly parsed list.
func NewListWatcher(cfg ServerConfig, logger *slog.Logger, onChange func(ListKind, []string)) *ListWatcher {
	w := &ListWatcher{
		files:    make(map[string]ListKind),
		fold:     map[ListKind]bool{ListDeny: true, ListPeers: false, ListWords: true},
		log:      logger,
		onChange: onChange,
		debounce: reloadDebounce,
	}
	for path, kind := range map[string]ListKind{
		cfg.DenyListFile: ListDeny,
		cfg.PeerListFile: ListPeers,
		cfg.WordListFile: ListWords,
	} {
		if path == "" {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			w.files[abs] = kind
		}
	}
	return w
}

// Run watches until ctx is done. Parent directories are watched so that
// editors replacing a file by rename are picked up.
func (w *ListWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create list watcher: %w", err)
	}
	defer fsw.Close()

	dirs := make(map[string]struct{})
	for path := range w.files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("list directory not watched", "dir", dir, "err", err)
		}
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			kind, ok := w.files[path]
			if !ok {
				continue
			}
			mu.Lock()
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					w.reload(path, kind)
				}
			})
			mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("list watcher error", "err", err)
		}
	}
}

func (w *ListWatcher) reload(path string, kind ListKind) {
	entries, err := ReadList(path, w.fold[kind])
	if err != nil {
		w.log.Error("list reload failed", "list", string(kind), "path", path, "err", err)
		return
	}
	w.log.Info("list reloaded", "list", string(kind), "entries", len(entries))
	w.onChange(kind, entries)
}
