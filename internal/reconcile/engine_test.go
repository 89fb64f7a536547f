package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/reconcile"
	"dropwatch/internal/snapshot"
	"dropwatch/internal/testsupport"
	"dropwatch/internal/tracking"
	"dropwatch/internal/validation"
	"dropwatch/internal/watch"
)

type recorder struct {
	mu          sync.Mutex
	transitions []reconcile.Transition
}

func (r *recorder) ObserveTransition(t reconcile.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

type harness struct {
	t        *testing.T
	cfg      *config.Config
	store    *tracking.Store
	snap     *snapshot.Snapshotter
	engine   *reconcile.Engine
	rec      *recorder
	settings tracking.Settings
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return startHarness(t, cfg, store, store)
}

func startHarness(t *testing.T, cfg *config.Config, store *tracking.Store, engineStore reconcile.Store) *harness {
	t.Helper()
	snap := snapshot.New(cfg.QuietPeriod(), logging.NewNop())
	validator, err := validation.New(cfg.Validation)
	if err != nil {
		t.Fatalf("validation.New: %v", err)
	}
	engine, err := reconcile.New(reconcile.Options{
		Store:       engineStore,
		Snapshotter: snap,
		Remarks:     validator,
		GraceWindow: cfg.GraceWindow(),
		QueueSize:   cfg.Monitoring.QueueSize,
		Logger:      logging.NewNop(),
		Registerer:  prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	rec := &recorder{}
	engine.AddObserver(rec)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(engine.Stop)

	settings, err := store.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	return &harness{t: t, cfg: cfg, store: store, snap: snap, engine: engine, rec: rec, settings: settings}
}

func (h *harness) importLoc() tracking.Location { return h.settings.ImportLocations()[0] }

func (h *harness) failedLoc() tracking.Location {
	loc, _ := h.settings.FailedLocation()
	return loc
}

func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.Flush(ctx); err != nil {
		h.t.Fatalf("Flush: %v", err)
	}
}

func (h *harness) resync() {
	h.t.Helper()
	h.engine.Resync(h.snap.Capture(context.Background(), h.settings))
	h.flush()
}

func (h *harness) submit(kind watch.Kind, loc tracking.Location, name string) {
	h.engine.Submit(watch.Event{Kind: kind, Location: loc, Name: name})
}

// settle waits out grace timers and drains whatever they queued.
func (h *harness) settle() {
	h.t.Helper()
	time.Sleep(h.cfg.GraceWindow() + 50*time.Millisecond)
	h.flush()
}

func (h *harness) status(name string) tracking.Status {
	h.t.Helper()
	file, err := h.store.GetFile(context.Background(), name)
	if err != nil {
		h.t.Fatalf("GetFile: %v", err)
	}
	if file == nil {
		return ""
	}
	return file.Status
}

func (h *harness) waitStatus(name string, want tracking.Status) {
	h.t.Helper()
	testsupport.Eventually(h.t, 3*time.Second, func() bool {
		return h.status(name) == want
	}, "%s: expected status %q, got %q", name, want, h.status(name))
}

func TestReportPublishedAfterRemoval(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.importLoc().Path, "report.pdf")
	testsupport.WriteFile(t, path, 64)

	h.submit(watch.Added, h.importLoc(), "report.pdf")
	h.flush()
	file := testsupport.MustGetFile(t, h.store, "report.pdf")
	if file.Status != tracking.StatusProcessing || file.Source != "Import" {
		t.Fatalf("expected processing from Import, got %+v", file)
	}

	testsupport.Remove(t, path)
	h.submit(watch.Removed, h.importLoc(), "report.pdf")
	h.flush()
	if got := h.status("report.pdf"); got != tracking.StatusProcessing {
		t.Fatalf("expected publish held back by grace window, got %s", got)
	}
	h.waitStatus("report.pdf", tracking.StatusPublished)
}

func TestFailedWinsRegardlessOfEventOrder(t *testing.T) {
	orders := map[string][]watch.Kind{
		"failed first":  {watch.Added, watch.Removed},
		"removal first": {watch.Removed, watch.Added},
		"failed missed": {watch.Removed},
	}
	for label, order := range orders {
		t.Run(label, func(t *testing.T) {
			h := newHarness(t)
			src := filepath.Join(h.importLoc().Path, "clip.mov")
			testsupport.WriteFile(t, src, 32)
			h.submit(watch.Added, h.importLoc(), "clip.mov")
			h.flush()

			testsupport.Move(t, src, filepath.Join(h.failedLoc().Path, "clip.mov"))
			for _, kind := range order {
				if kind == watch.Added {
					h.submit(watch.Added, h.failedLoc(), "clip.mov")
				} else {
					h.submit(watch.Removed, h.importLoc(), "clip.mov")
				}
			}
			h.flush()
			h.settle()

			file := testsupport.MustGetFile(t, h.store, "clip.mov")
			if file.Status != tracking.StatusFailed {
				t.Fatalf("expected failed, got %s", file.Status)
			}
			if file.Remarks != "File was rejected by the processing system" || file.Source != "Failed" {
				t.Fatalf("unexpected failed record %+v", file)
			}
			for _, tr := range h.rec.transitions {
				if tr.To == tracking.StatusPublished {
					t.Fatalf("unexpected publish transition %+v", tr)
				}
			}
		})
	}
}

func TestFailureRemarkUsesFilenameRule(t *testing.T) {
	h := newHarness(t, testsupport.WithFilenamePattern(`^[a-z]+\.mov$`, "lowercase letters with .mov"))
	testsupport.WriteFile(t, filepath.Join(h.failedLoc().Path, "Bad Name.mov"), 1)
	h.submit(watch.Added, h.failedLoc(), "Bad Name.mov")
	h.flush()

	file := testsupport.MustGetFile(t, h.store, "Bad Name.mov")
	if file.Status != tracking.StatusFailed || file.Remarks != "file name must be lowercase letters with .mov" {
		t.Fatalf("unexpected record %+v", file)
	}
}

func TestRetryReimportsWithClearedRemarks(t *testing.T) {
	h := newHarness(t)
	failedPath := filepath.Join(h.failedLoc().Path, "clip.mov")
	testsupport.WriteFile(t, failedPath, 8)
	h.resync()
	if got := testsupport.MustGetFile(t, h.store, "clip.mov"); got.Status != tracking.StatusFailed || got.Remarks == "" {
		t.Fatalf("expected failed with remark, got %+v", got)
	}

	testsupport.Move(t, failedPath, filepath.Join(h.importLoc().Path, "clip.mov"))
	h.submit(watch.Removed, h.failedLoc(), "clip.mov")
	h.submit(watch.Added, h.importLoc(), "clip.mov")
	h.flush()

	got := testsupport.MustGetFile(t, h.store, "clip.mov")
	if got.Status != tracking.StatusProcessing || got.Remarks != "" || got.Source != "Import" {
		t.Fatalf("expected fresh processing record, got %+v", got)
	}

	// The poll path reaches the same answer without events.
	h.resync()
	if got := h.status("clip.mov"); got != tracking.StatusProcessing {
		t.Fatalf("expected resync to keep processing, got %s", got)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	h := newHarness(t, testsupport.WithExtraImport("Studio"))
	testsupport.WriteFile(t, filepath.Join(h.importLoc().Path, "a.mov"), 1)
	testsupport.WriteFile(t, filepath.Join(h.settings.ImportLocations()[1].Path, "b.mov"), 1)
	testsupport.WriteFile(t, filepath.Join(h.failedLoc().Path, "c.mov"), 1)
	testsupport.SeedFile(t, h.store, "gone.mov", tracking.StatusProcessing, "Import")

	h.resync()
	first := h.rec.count()
	if first != 4 {
		t.Fatalf("expected 4 transitions on first pass, got %d", first)
	}
	if got := testsupport.MustGetFile(t, h.store, "b.mov"); got.Source != "Studio" {
		t.Fatalf("expected source label Studio, got %q", got.Source)
	}
	if got := h.status("gone.mov"); got != tracking.StatusPublished {
		t.Fatalf("expected absent processing record published, got %s", got)
	}

	h.resync()
	h.resync()
	if got := h.rec.count(); got != first {
		t.Fatalf("expected no further transitions, got %d more", got-first)
	}
}

func TestUnavailableLocationBlocksPublish(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedFile(t, h.store, "held.mov", tracking.StatusProcessing, "Import")
	if err := os.RemoveAll(h.importLoc().Path); err != nil {
		t.Fatalf("remove import dir: %v", err)
	}

	h.resync()
	if got := h.status("held.mov"); got != tracking.StatusProcessing {
		t.Fatalf("expected processing while import is unreadable, got %s", got)
	}

	if err := os.MkdirAll(h.importLoc().Path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	h.resync()
	if got := h.status("held.mov"); got != tracking.StatusPublished {
		t.Fatalf("expected publish once import is readable and empty, got %s", got)
	}
}

func TestMidCopyFileDoesNotFlicker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitoring.QuietPeriodMS = 300
	store := testsupport.MustOpenStore(t, cfg)
	h := startHarness(t, cfg, store, store)
	path := filepath.Join(h.importLoc().Path, "big.mov")

	testsupport.WriteFile(t, path, 10)
	h.resync()
	testsupport.Remove(t, path)
	h.resync()
	testsupport.WriteFile(t, path, 20)
	h.resync()
	if h.rec.count() != 0 || h.status("big.mov") != "" {
		t.Fatalf("expected no record while copy is in flight, got %q", h.status("big.mov"))
	}

	time.Sleep(cfg.QuietPeriod() + 100*time.Millisecond)
	h.resync()
	if got := h.status("big.mov"); got != tracking.StatusProcessing {
		t.Fatalf("expected processing once stable, got %q", got)
	}

	// A rewrite of a processing file keeps it in import.
	testsupport.WriteFile(t, path, 30)
	h.resync()
	h.resync()
	if got := h.status("big.mov"); got != tracking.StatusProcessing {
		t.Fatalf("expected rewrite to stay processing, got %q", got)
	}
	if got := h.rec.count(); got != 1 {
		t.Fatalf("expected exactly one transition, got %d", got)
	}
}

func TestClearedRecordsAreNotRecreated(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteFile(t, filepath.Join(h.importLoc().Path, "a.mov"), 1)
	testsupport.WriteFile(t, filepath.Join(h.failedLoc().Path, "b.mov"), 1)
	h.resync()

	if _, err := h.store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	h.resync()
	files, err := h.store.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected cleared records to stay cleared, got %+v", files)
	}
}

func TestConcurrentEventsLeaveOneValidRecord(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteFile(t, filepath.Join(h.importLoc().Path, "race.mov"), 1)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				h.submit(watch.Added, h.importLoc(), "race.mov")
			case 1:
				h.submit(watch.Added, h.failedLoc(), "race.mov")
			case 2:
				h.submit(watch.Removed, h.failedLoc(), "race.mov")
			default:
				h.engine.Resync(h.snap.Capture(context.Background(), h.settings))
			}
		}(i)
	}
	wg.Wait()
	h.flush()
	h.settle()

	file := testsupport.MustGetFile(t, h.store, "race.mov")
	if file.Status != tracking.StatusProcessing || file.Source != "Import" || file.Remarks != "" {
		t.Fatalf("unexpected record %+v", file)
	}
	if got := h.rec.count(); got != 1 {
		t.Fatalf("expected a single transition, got %d", got)
	}
}

// TestPushAndPollConverge applies the same random moves to two engines, one
// fed per-file events and one fed full snapshots, and compares the results.
func TestPushAndPollConverge(t *testing.T) {
	push := newHarness(t)
	poll := newHarness(t)
	names := []string{"a.mov", "b.mov", "c.mov"}
	const (
		elsewhere = iota
		inImport
		inFailed
	)
	where := map[string]int{}
	rng := rand.New(rand.NewPCG(7, 11))

	dirFor := func(h *harness, place int) string {
		switch place {
		case inImport:
			return h.importLoc().Path
		case inFailed:
			return h.failedLoc().Path
		default:
			return filepath.Join(testsupport.BaseDir(h.cfg), "elsewhere")
		}
	}
	locFor := func(h *harness, place int) (tracking.Location, bool) {
		switch place {
		case inImport:
			return h.importLoc(), true
		case inFailed:
			return h.failedLoc(), true
		default:
			return tracking.Location{}, false
		}
	}
	for _, h := range []*harness{push, poll} {
		if err := os.MkdirAll(dirFor(h, elsewhere), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for _, name := range names {
			testsupport.WriteFile(t, filepath.Join(dirFor(h, elsewhere), name), 1)
		}
	}

	for step := 0; step < 12; step++ {
		type move struct {
			name     string
			from, to int
		}
		var moves []move
		for _, name := range names {
			if rng.IntN(2) == 0 {
				continue
			}
			to := rng.IntN(3)
			if to == where[name] {
				continue
			}
			moves = append(moves, move{name: name, from: where[name], to: to})
			where[name] = to
		}
		var events []watch.Event
		for _, m := range moves {
			for _, h := range []*harness{push, poll} {
				testsupport.Move(t, filepath.Join(dirFor(h, m.from), m.name), filepath.Join(dirFor(h, m.to), m.name))
			}
			if loc, ok := locFor(push, m.from); ok {
				events = append(events, watch.Event{Kind: watch.Removed, Location: loc, Name: m.name})
			}
			if loc, ok := locFor(push, m.to); ok {
				events = append(events, watch.Event{Kind: watch.Added, Location: loc, Name: m.name})
			}
		}
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
		for _, ev := range events {
			push.engine.Submit(ev)
		}
		push.flush()
		push.settle()
		poll.resync()

		for _, name := range names {
			if got, want := push.status(name), poll.status(name); got != want {
				t.Fatalf("step %d: %s push=%q poll=%q", step, name, got, want)
			}
		}
	}

	// A final resync on the push side changes nothing.
	before := push.rec.count()
	push.resync()
	if got := push.rec.count(); got != before {
		t.Fatalf("expected resync after events to be a no-op, got %d transitions", got-before)
	}
}

type flakyStore struct {
	*tracking.Store
	failures atomic.Int32
}

func (f *flakyStore) UpsertFile(ctx context.Context, file *tracking.File) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("disk I/O error")
	}
	return f.Store.UpsertFile(ctx, file)
}

func TestStoreFailureIsHealedByNextResync(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	flaky := &flakyStore{Store: store}
	flaky.failures.Store(2)
	h := startHarness(t, cfg, store, flaky)

	testsupport.WriteFile(t, filepath.Join(h.importLoc().Path, "a.mov"), 1)
	testsupport.WriteFile(t, filepath.Join(h.failedLoc().Path, "b.mov"), 1)
	h.resync()
	if h.status("a.mov") != "" || h.status("b.mov") != "" {
		t.Fatal("expected failed writes to be dropped")
	}

	h.resync()
	if got := h.status("a.mov"); got != tracking.StatusProcessing {
		t.Fatalf("expected a.mov healed to processing, got %q", got)
	}
	if got := h.status("b.mov"); got != tracking.StatusFailed {
		t.Fatalf("expected b.mov healed to failed, got %q", got)
	}
}

func TestExtensionFilterIgnoresOtherFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitoring.Extensions = []string{".mov"}
	store := testsupport.MustOpenStore(t, cfg)
	h := startHarness(t, cfg, store, store)

	for i := 0; i < 3; i++ {
		testsupport.WriteFile(t, filepath.Join(h.importLoc().Path, fmt.Sprintf("notes-%d.txt", i)), 1)
	}
	h.resync()
	h.submit(watch.Added, h.importLoc(), "notes-0.txt")
	h.flush()
	if got := h.rec.count(); got != 0 {
		t.Fatalf("expected filtered files ignored, got %d transitions", got)
	}
}

func TestWhitespaceEdgedNamesKeepTheirOwnRecord(t *testing.T) {
	h := newHarness(t)
	const padded = "clip.mov "
	paddedPath := filepath.Join(h.importLoc().Path, padded)
	testsupport.WriteFile(t, paddedPath, 8)

	h.resync()
	h.resync()
	if got := h.status(padded); got != tracking.StatusProcessing {
		t.Fatalf("expected %q processing while still in import, got %q", padded, got)
	}
	if got := h.status("clip.mov"); got != "" {
		t.Fatalf("expected no record for the trimmed name, got %q", got)
	}

	// A file with the trimmed name is a separate record.
	plainPath := filepath.Join(h.importLoc().Path, "clip.mov")
	testsupport.WriteFile(t, plainPath, 8)
	h.submit(watch.Added, h.importLoc(), "clip.mov")
	h.flush()
	testsupport.Remove(t, plainPath)
	h.submit(watch.Removed, h.importLoc(), "clip.mov")
	h.flush()
	h.settle()
	if got := h.status("clip.mov"); got != tracking.StatusPublished {
		t.Fatalf("expected clip.mov published, got %q", got)
	}
	if got := h.status(padded); got != tracking.StatusProcessing {
		t.Fatalf("expected %q untouched by its neighbour, got %q", padded, got)
	}

	testsupport.Remove(t, paddedPath)
	h.submit(watch.Removed, h.importLoc(), padded)
	h.flush()
	h.waitStatus(padded, tracking.StatusPublished)
}
