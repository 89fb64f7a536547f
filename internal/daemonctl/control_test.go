package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dropwatch/internal/daemonctl"
	"dropwatch/internal/testsupport"
	"dropwatch/internal/tracking"
)

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedFile(t, store, "a.mov", tracking.StatusFailed, "Failed")
	testsupport.SeedFile(t, store, "b.mov", tracking.StatusPublished, "Import")

	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if !snap.Offline {
		t.Fatal("expected offline snapshot without a daemon")
	}
	if snap.Status.Running {
		t.Fatal("offline snapshot must not report running")
	}
	if snap.Status.Counts["failed"] != 1 || snap.Status.Counts["published"] != 1 || snap.Status.Counts["processing"] != 0 {
		t.Fatalf("unexpected counts %+v", snap.Status.Counts)
	}
	if len(snap.Status.Checks) == 0 {
		t.Fatal("expected local checks")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.StopAndTerminate(cfg.SocketPath(), cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
	if err := daemonctl.WaitForShutdown(cfg.SocketPath(), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "dropwatch.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	_, err := daemonctl.ForceKillProcess(pidPath, "", 0)
	if err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}

	_, err = daemonctl.ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0)
	if err == nil || !strings.Contains(err.Error(), "unable to determine") {
		t.Fatalf("expected missing pid error, got %v", err)
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := daemonctl.Launch(" ", daemonctl.LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}
