package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/tracking"
)

const (
	notifierBuffer   = 512
	minDebounceDelay = 25 * time.Millisecond
)

type pendingAdd struct {
	timer *time.Timer
}

// Notifier reports top-level changes in watched locations as they happen.
type Notifier struct {
	snap       *snapshot.Snapshotter
	sink       Sink
	logger     *slog.Logger
	watcher    *fsnotify.Watcher
	onOverflow func()

	mu        sync.Mutex
	locations map[string]tracking.Location
	pending   map[string]*pendingAdd
	closed    bool
}

// NewNotifier opens an OS notification handle. It fails when the platform
// has no push notification support or the handle limit is reached.
func NewNotifier(snap *snapshot.Snapshotter, sink Sink, logger *slog.Logger) (*Notifier, error) {
	w, err := fsnotify.NewBufferedWatcher(notifierBuffer)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Notifier{
		snap:      snap,
		sink:      sink,
		logger:    logging.NewComponentLogger(logger, "notifier"),
		watcher:   w,
		locations: make(map[string]tracking.Location),
		pending:   make(map[string]*pendingAdd),
	}, nil
}

// OnOverflow sets the callback used when the OS drops events.
func (n *Notifier) OnOverflow(fn func()) {
	n.mu.Lock()
	n.onOverflow = fn
	n.mu.Unlock()
}

// Watch brings the watch list in line with the configured locations.
// Locations that cannot be watched are retried on the next call.
func (n *Notifier) Watch(settings tracking.Settings) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	wanted := make(map[string]tracking.Location, len(settings.Locations))
	for _, loc := range settings.Locations {
		wanted[filepath.Clean(loc.Path)] = loc
	}
	for path := range n.locations {
		if _, ok := wanted[path]; ok {
			continue
		}
		_ = n.watcher.Remove(path)
		delete(n.locations, path)
		n.logger.Info("stopped watching location", logging.String("path", path))
	}
	for path, loc := range wanted {
		if _, ok := n.locations[path]; ok {
			n.locations[path] = loc
			continue
		}
		if err := n.watcher.Add(path); err != nil {
			n.logger.Debug("watch location failed; poller covers it",
				logging.Location(loc.Label()),
				logging.String("path", path),
				logging.Error(err),
			)
			continue
		}
		n.locations[path] = loc
		n.logger.Info("watching location",
			logging.Location(loc.Label()),
			logging.String("path", path),
			logging.String("role", loc.Role),
			logging.String(logging.FieldEventType, "location_watch_started"),
		)
	}
}

// Run forwards notifications until ctx is cancelled, then releases the handle.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return nil
			}
			n.handle(ev)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return nil
			}
			n.handleError(err)
		}
	}
}

func (n *Notifier) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		logging.WarnWithContext(n.logger, "notification queue overflowed; requesting resync", "notify_overflow",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_queued_events if this repeats"),
			logging.String(logging.FieldImpact, "changes are recovered by a full resync"),
		)
		n.mu.Lock()
		fn := n.onOverflow
		n.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	n.logger.Warn("watcher error", logging.Error(err), logging.String(logging.FieldEventType, "notify_error"))
}

func (n *Notifier) handle(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	n.mu.Lock()
	loc, ok := n.locations[dir]
	n.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !snapshot.Exists(dir, name) {
			return
		}
		if loc.Role == config.RoleFailed {
			n.sink.Submit(Event{Kind: Added, Location: loc, Name: name})
			return
		}
		n.scheduleAdd(loc, name)
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		n.cancelAdd(ev.Name)
		if snapshot.Exists(dir, name) {
			return
		}
		n.sink.Submit(Event{Kind: Removed, Location: loc, Name: name})
	}
}

// scheduleAdd reports name once it has been quiet for the quiet period.
// Every further write pushes the check back.
func (n *Notifier) scheduleAdd(loc tracking.Location, name string) {
	path := filepath.Join(loc.Path, name)
	delay := n.snap.QuietPeriod()
	if delay < minDebounceDelay {
		delay = minDebounceDelay
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if prev, ok := n.pending[path]; ok {
		prev.timer.Stop()
	}
	entry := &pendingAdd{}
	entry.timer = time.AfterFunc(delay, func() { n.fireAdd(entry, loc, name) })
	n.pending[path] = entry
}

func (n *Notifier) fireAdd(entry *pendingAdd, loc tracking.Location, name string) {
	path := filepath.Join(loc.Path, name)
	n.mu.Lock()
	if n.pending[path] != entry {
		n.mu.Unlock()
		return
	}
	delete(n.pending, path)
	n.mu.Unlock()

	switch n.snap.Probe(loc.Path, name) {
	case snapshot.Stable:
		n.sink.Submit(Event{Kind: Added, Location: loc, Name: name})
	case snapshot.Pending:
		n.scheduleAdd(loc, name)
	}
}

func (n *Notifier) cancelAdd(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if entry, ok := n.pending[path]; ok {
		entry.timer.Stop()
		delete(n.pending, path)
	}
}

func (n *Notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for path, entry := range n.pending {
		entry.timer.Stop()
		delete(n.pending, path)
	}
	_ = n.watcher.Close()
}
