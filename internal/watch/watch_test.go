package watch_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/testsupport"
	"dropwatch/internal/tracking"
	"dropwatch/internal/watch"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []watch.Event
	resyncs []snapshot.Set
}

func (r *recordingSink) Submit(ev watch.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) Resync(set snapshot.Set) {
	r.mu.Lock()
	r.resyncs = append(r.resyncs, set)
	r.mu.Unlock()
}

func (r *recordingSink) resyncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resyncs)
}

func (r *recordingSink) lastResync() snapshot.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resyncs[len(r.resyncs)-1]
}

func (r *recordingSink) saw(kind watch.Kind, role, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Location.Role == role && ev.Name == name {
			return true
		}
	}
	return false
}

type failingReader struct{}

func (failingReader) Settings(context.Context) (tracking.Settings, error) {
	return tracking.Settings{}, errors.New("database is locked")
}

func listing(loc tracking.Location, stable []string, pending []string) snapshot.Listing {
	l := snapshot.Listing{
		Location:  loc,
		Stable:    make(map[string]snapshot.Entry),
		Pending:   make(map[string]snapshot.Entry),
		Available: true,
	}
	for _, name := range stable {
		l.Stable[name] = snapshot.Entry{Name: name}
	}
	for _, name := range pending {
		l.Pending[name] = snapshot.Entry{Name: name}
	}
	return l
}

func TestDiff(t *testing.T) {
	imp := tracking.Location{Name: "Import", Path: "/in", Role: config.RoleImport}
	failed := tracking.Location{Name: "Failed", Path: "/out", Role: config.RoleFailed}

	prev := snapshot.Set{
		Imports: []snapshot.Listing{listing(imp, []string{"a.mov", "b.mov", "c.mov"}, nil)},
		Failed:  listing(failed, nil, nil),
	}
	next := snapshot.Set{
		Imports: []snapshot.Listing{listing(imp, []string{"a.mov", "d.mov"}, []string{"c.mov", "e.mov"})},
		Failed:  listing(failed, []string{"b.mov"}, nil),
	}

	got := map[string]watch.Kind{}
	for _, ev := range watch.Diff(prev, next) {
		got[ev.Location.Role+"/"+ev.Name] = ev.Kind
	}
	want := map[string]watch.Kind{
		"import/d.mov": watch.Added,
		"import/b.mov": watch.Removed,
		"failed/b.mov": watch.Added,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for key, kind := range want {
		if got[key] != kind {
			t.Fatalf("expected %s %s, got %v", key, kind, got)
		}
	}

	unavailable := next
	unavailable.Imports = []snapshot.Listing{{Location: imp}}
	for _, ev := range watch.Diff(prev, unavailable) {
		if ev.Location.Role == config.RoleImport {
			t.Fatalf("expected no import events from an unavailable listing, got %+v", ev)
		}
	}
}

func TestPollerSubmitsResyncAndTracksSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.WriteFile(t, filepath.Join(testsupport.ImportDir(cfg), "clip.mov"), 8)

	sink := &recordingSink{}
	var seen []tracking.Settings
	poller := watch.NewPoller(store, snapshot.New(0, logging.NewNop()), sink, time.Hour, logging.NewNop(), func(s tracking.Settings) {
		seen = append(seen, s)
	})

	set, ok := poller.Poll(context.Background())
	if !ok {
		t.Fatal("expected poll to succeed")
	}
	if !set.Complete() {
		t.Fatalf("expected complete capture, got %+v", set)
	}
	if _, ok := set.StableImport("clip.mov"); !ok {
		t.Fatal("expected clip.mov in import capture")
	}
	if sink.resyncCount() != 1 || len(seen) != 1 {
		t.Fatalf("expected one resync and one settings callback, got %d/%d", sink.resyncCount(), len(seen))
	}
}

func TestPollerSkipsWhenSettingsUnavailable(t *testing.T) {
	sink := &recordingSink{}
	poller := watch.NewPoller(failingReader{}, snapshot.New(0, logging.NewNop()), sink, time.Hour, logging.NewNop(), nil)
	if _, ok := poller.Poll(context.Background()); ok {
		t.Fatal("expected poll to report failure")
	}
	if sink.resyncCount() != 0 {
		t.Fatal("expected no resync without settings")
	}
}

func TestPollerTriggerRunsExtraPass(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sink := &recordingSink{}
	poller := watch.NewPoller(store, snapshot.New(0, logging.NewNop()), sink, time.Hour, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	testsupport.Eventually(t, 2*time.Second, func() bool { return sink.resyncCount() >= 1 }, "expected initial pass")
	testsupport.WriteFile(t, filepath.Join(testsupport.FailedDir(cfg), "late.mov"), 1)
	poller.Trigger()
	testsupport.Eventually(t, 2*time.Second, func() bool {
		return sink.resyncCount() >= 2 && sink.lastResync().Failed.Has("late.mov")
	}, "expected triggered pass to see late.mov")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func startNotifier(t *testing.T, cfg *config.Config, quiet time.Duration) *recordingSink {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	settings, err := store.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	sink := &recordingSink{}
	notifier, err := watch.NewNotifier(snapshot.New(quiet, logging.NewNop()), sink, logging.NewNop())
	if err != nil {
		t.Skipf("push notifications unavailable: %v", err)
	}
	notifier.Watch(settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = notifier.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sink
}

func TestNotifierReportsAddsAndRemoves(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sink := startNotifier(t, cfg, 0)

	importPath := filepath.Join(testsupport.ImportDir(cfg), "clip.mov")
	failedPath := filepath.Join(testsupport.FailedDir(cfg), "clip.mov")

	testsupport.WriteFile(t, importPath, 16)
	testsupport.Eventually(t, 2*time.Second, func() bool {
		return sink.saw(watch.Added, config.RoleImport, "clip.mov")
	}, "expected import add")

	testsupport.Move(t, importPath, failedPath)
	testsupport.Eventually(t, 2*time.Second, func() bool {
		return sink.saw(watch.Removed, config.RoleImport, "clip.mov") && sink.saw(watch.Added, config.RoleFailed, "clip.mov")
	}, "expected import removal and failed add")

	testsupport.Remove(t, failedPath)
	testsupport.Eventually(t, 2*time.Second, func() bool {
		return sink.saw(watch.Removed, config.RoleFailed, "clip.mov")
	}, "expected failed removal")
}

func TestNotifierIgnoresDotFilesAndShortLivedImports(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sink := startNotifier(t, cfg, 200*time.Millisecond)

	testsupport.WriteFile(t, filepath.Join(testsupport.ImportDir(cfg), ".partial"), 4)
	brief := filepath.Join(testsupport.ImportDir(cfg), "brief.mov")
	testsupport.WriteFile(t, brief, 4)
	testsupport.Remove(t, brief)

	time.Sleep(500 * time.Millisecond)
	if sink.saw(watch.Added, config.RoleImport, ".partial") || sink.saw(watch.Added, config.RoleImport, "brief.mov") {
		t.Fatal("expected no add for dot files or files removed within the quiet period")
	}
}

func TestMonitorPollMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitoring.Mode = config.ModePoll
	cfg.Monitoring.PollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	sink := &recordingSink{}
	monitor := watch.NewMonitor(cfg, store, snapshot.New(0, logging.NewNop()), sink, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	testsupport.Eventually(t, 2*time.Second, func() bool { return sink.resyncCount() >= 1 }, "expected initial resync")
	if monitor.Mode() != config.ModePoll {
		t.Fatalf("expected poll mode, got %q", monitor.Mode())
	}
	monitor.Trigger()
	testsupport.Eventually(t, 2*time.Second, func() bool { return sink.resyncCount() >= 2 }, "expected triggered resync")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestMonitorAutoModePollsNetworkLocations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitoring.Mode = config.ModeAuto
	cfg.Locations[0].Type = config.TypeNetwork
	store := testsupport.MustOpenStore(t, cfg)
	sink := &recordingSink{}
	monitor := watch.NewMonitor(cfg, store, snapshot.New(0, logging.NewNop()), sink, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	testsupport.Eventually(t, 2*time.Second, func() bool { return monitor.Mode() != "" }, "expected monitor to start")
	if monitor.Mode() != config.ModePoll {
		t.Fatalf("expected auto mode to poll network locations, got %q", monitor.Mode())
	}
	cancel()
	<-done
}

func TestMonitorPushModeWatchesAndResyncs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitoring.Mode = config.ModePush
	store := testsupport.MustOpenStore(t, cfg)
	sink := &recordingSink{}
	monitor := watch.NewMonitor(cfg, store, snapshot.New(0, logging.NewNop()), sink, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	testsupport.Eventually(t, 2*time.Second, func() bool { return sink.resyncCount() >= 1 }, "expected initial fallback resync")
	if monitor.Mode() != config.ModePush {
		t.Skipf("push notifications unavailable, monitor is in %q mode", monitor.Mode())
	}
	testsupport.WriteFile(t, filepath.Join(testsupport.FailedDir(cfg), "bad.mov"), 1)
	testsupport.Eventually(t, 2*time.Second, func() bool {
		return sink.saw(watch.Added, config.RoleFailed, "bad.mov")
	}, "expected failed add from notifications")
}
