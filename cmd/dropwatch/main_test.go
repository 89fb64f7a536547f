package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dropwatch/internal/config"
	"dropwatch/internal/daemon"
	"dropwatch/internal/ipc"
	"dropwatch/internal/logging"
	"dropwatch/internal/testsupport"
	"dropwatch/internal/tracking"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *tracking.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T, startDaemon bool) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	env := &cliTestEnv{cfg: cfg, store: store, socketPath: cfg.SocketPath(), configPath: configPath}
	if !startDaemon {
		return env
	}

	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, logger, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	env.daemon = d

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--socket", e.socketPath, "--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nstate_dir = %q\nlog_dir = %q\n\n", cfg.Paths.StateDir, cfg.Paths.LogDir)
	for _, loc := range cfg.Locations {
		fmt.Fprintf(&b, "[[locations]]\nname = %q\npath = %q\nrole = %q\ntype = %q\n\n", loc.Name, loc.Path, loc.Role, loc.Type)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestFilesListAndShow(t *testing.T) {
	env := setupCLITestEnv(t, true)
	testsupport.SeedFile(t, env.store, "alpha.mov", tracking.StatusPublished, "Import")
	testsupport.SeedFile(t, env.store, "beta.mov", tracking.StatusFailed, "Failed")

	out, err := env.run(t, "files")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	requireContains(t, out, "alpha.mov")
	requireContains(t, out, "beta.mov")
	requireContains(t, out, "2 records")

	out, err = env.run(t, "files", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("files --status failed: %v", err)
	}
	var resp ipc.FilesListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(resp.Files) != 1 || resp.Files[0].Name != "beta.mov" {
		t.Fatalf("unexpected filtered files %+v", resp.Files)
	}

	if _, err := env.run(t, "files", "--status", "archived"); err == nil {
		t.Fatal("expected unknown status to fail")
	}

	out, err = env.run(t, "files", "show", "beta.mov")
	if err != nil {
		t.Fatalf("files show: %v", err)
	}
	requireContains(t, out, "Name:     beta.mov")
	requireContains(t, out, "Source:   Failed")

	if _, err := env.run(t, "files", "show", "missing.mov"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestRetryRenameAndClear(t *testing.T) {
	env := setupCLITestEnv(t, true)
	failedDir := testsupport.FailedDir(env.cfg)
	importDir := testsupport.ImportDir(env.cfg)
	testsupport.WriteFile(t, filepath.Join(failedDir, "one.mov"), 8)
	testsupport.WriteFile(t, filepath.Join(failedDir, "two.mov"), 8)

	out, err := env.run(t, "retry", "one.mov")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Moved one.mov back to import")
	if _, err := os.Stat(filepath.Join(importDir, "one.mov")); err != nil {
		t.Fatalf("expected one.mov in import: %v", err)
	}

	out, err = env.run(t, "rename", "two.mov", "two_fixed.mov")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	requireContains(t, out, "as two_fixed.mov")

	if _, err := env.run(t, "retry", "one.mov"); err == nil {
		t.Fatal("expected retry of a file no longer in failed to fail")
	}

	if _, err := env.run(t, "files", "clear"); err == nil {
		t.Fatal("expected clear without --yes to be refused")
	}
	testsupport.SeedFile(t, env.store, "seed.mov", tracking.StatusPublished, "Import")
	out, err = env.run(t, "files", "clear", "--yes")
	if err != nil {
		t.Fatalf("files clear: %v", err)
	}
	requireContains(t, out, "Removed")
}

func TestStatusOnlineAndOffline(t *testing.T) {
	env := setupCLITestEnv(t, true)
	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "[OK] pid")
	requireContains(t, out, "== Records ==")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"running": true`)

	offline := setupCLITestEnv(t, false)
	out, err = offline.run(t, "status")
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "daemon offline")
}

func TestMaintenanceCommands(t *testing.T) {
	env := setupCLITestEnv(t, true)

	out, err := env.run(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "Sweep finished")

	out, err = env.run(t, "resync")
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	requireContains(t, out, "Resync requested")

	out, err = env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}

func TestCommandsFailWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t, false)
	_, err := env.run(t, "files")
	if err == nil || !strings.Contains(err.Error(), "dropwatch start") {
		t.Fatalf("expected start hint, got %v", err)
	}
	out, err := env.run(t, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	target := filepath.Join(t.TempDir(), "dropwatch.toml")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout.String(), "Wrote sample configuration")

	cmd = newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected second init to refuse overwriting")
	}

	stdout.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", target, "config", "validate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, stdout.String(), "Configuration valid")
	requireContains(t, stdout.String(), "Monitoring mode: poll")
}

func TestLogsCommandFiltersByFile(t *testing.T) {
	env := setupCLITestEnv(t, false)
	logPath := filepath.Join(env.cfg.Paths.LogDir, "dropwatch.log")
	content := `{"msg":"record created","file":"a.mov"}
{"msg":"record created","file":"b.mov"}
`
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, err := env.run(t, "logs", "--file", "b.mov")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, `"file":"b.mov"`)
	if strings.Contains(out, "a.mov") {
		t.Fatalf("expected a.mov lines to be filtered out:\n%s", out)
	}
}
