package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"dropwatch/internal/daemon"
	"dropwatch/internal/logging"
	"dropwatch/internal/testsupport"
	"dropwatch/internal/tracking"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail while running")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if status.StartedAt.IsZero() {
		t.Fatal("expected start time")
	}

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected api listener address")
	}
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status %d", resp.StatusCode)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Fatal("expected api listener to be closed after Stop")
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start first: %v", err)
	}

	second, err := daemon.New(cfg, store, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected lock conflict for second daemon")
	}
	if second.APIAddr() != "" {
		t.Fatalf("expected api disabled, got %q", second.APIAddr())
	}
}

func TestDaemonTracksImportAndFailedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	importPath := filepath.Join(testsupport.ImportDir(cfg), "episode.mxf")
	testsupport.WriteFile(t, importPath, 64)
	d.Resync()
	waitForStatus(t, store, "episode.mxf", tracking.StatusProcessing)

	testsupport.Move(t, importPath, filepath.Join(testsupport.FailedDir(cfg), "episode.mxf"))
	d.Resync()
	waitForStatus(t, store, "episode.mxf", tracking.StatusFailed)

	target, err := d.Retry(context.Background(), "episode.mxf")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if target != "episode.mxf" {
		t.Fatalf("unexpected retry target %q", target)
	}
	waitForStatus(t, store, "episode.mxf", tracking.StatusProcessing)

	if _, err := d.Retry(context.Background(), "episode.mxf"); !errors.Is(err, daemon.ErrNotInFailed) {
		t.Fatalf("expected ErrNotInFailed, got %v", err)
	}
	if _, err := d.GetFile(context.Background(), "missing.mxf"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDaemonSweepRecordsLastResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if status := d.Status(ctx); status.LastSweep != nil {
		t.Fatalf("expected no sweep before the first run, got %+v", status.LastSweep)
	}
	result := d.Sweep(ctx)
	if result.Skipped {
		t.Fatal("expected sweep to run")
	}
	status := d.Status(ctx)
	if status.LastSweep == nil || status.LastSweepAt.IsZero() {
		t.Fatalf("expected last sweep to be recorded, got %+v", status)
	}
}

func waitForStatus(t *testing.T, store *tracking.Store, name string, want tracking.Status) {
	t.Helper()
	testsupport.Eventually(t, 3*time.Second, func() bool {
		file, err := store.GetFile(context.Background(), name)
		return err == nil && file != nil && file.Status == want
	}, "expected %s to reach %s", name, want)
}
