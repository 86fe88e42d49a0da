package qubesd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/qube"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher turns changes in the applications dir into appmenus-changed
// events, one per qube whose list actually changed.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	last     map[string][]qube.AppDescriptor
}

// NewWatcher returns a watcher for dir.
func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		debounce: defaultWatchDebounce,
		logger:   logger.With("component", "appmenus"),
	}
}

// Run watches until ctx ends. Bursts of file events are coalesced into a
// single rescan.
func (w *Watcher) Run(ctx context.Context, fn func(events.Raw)) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating applications dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	if w.last, err = ReadApplications(w.dir); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-timer.C:
			w.rescan(fn)
		}
	}
}

func (w *Watcher) rescan(fn func(events.Raw)) {
	next, err := ReadApplications(w.dir)
	if err != nil {
		w.logger.Warn("rescan failed", "error", err)
		return
	}
	for _, name := range changedQubes(w.last, next) {
		apps := next[name]
		if apps == nil {
			apps = []qube.AppDescriptor{}
		}
		w.logger.Debug("application list changed", "qube", name, "apps", len(apps))
		fn(events.Raw{Subject: name, Name: events.NameAppList, Payload: apps})
	}
	w.last = next
}

func changedQubes(prev, next map[string][]qube.AppDescriptor) []string {
	var names []string
	for name, apps := range next {
		if !slices.Equal(prev[name], apps) {
			names = append(names, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
