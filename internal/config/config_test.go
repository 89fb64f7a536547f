package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dropwatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "dropwatch")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	imports := cfg.ImportLocations()
	if len(imports) != 1 || imports[0].Path != filepath.Join(tempHome, "dropwatch", "import") {
		t.Fatalf("unexpected import locations: %+v", imports)
	}
	failed, ok := cfg.FailedLocation()
	if !ok || failed.Path != filepath.Join(tempHome, "dropwatch", "failed") {
		t.Fatalf("unexpected failed location: %+v", failed)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.GraceWindow() != time.Second {
		t.Fatalf("unexpected grace window: %s", cfg.GraceWindow())
	}
	if cfg.CleanupInterval() != time.Minute {
		t.Fatalf("unexpected cleanup interval: %s", cfg.CleanupInterval())
	}
	if cfg.Cleanup.ProcessingTimeout.Duration() != 2*time.Hour {
		t.Fatalf("unexpected timeout: %s", cfg.Cleanup.ProcessingTimeout.Duration())
	}
}

func TestLoadCustomConfigReplacesLocations(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	configPath := filepath.Join(tempHome, "config.toml")
	content := `
[paths]
state_dir = "~/state"

[[locations]]
name = "A"
path = "~/in-a"
role = "import"

[[locations]]
name = "B"
path = "~/in-b"
role = "IMPORT"
type = "network"

[[locations]]
path = "~/rejects"
role = "failed"

[monitoring]
mode = "Push"
extensions = ["MOV", ".mxf", "mov", " "]

[cleanup.processing_timeout]
enabled = true
value = 3
unit = "days"

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if got := len(cfg.Locations); got != 3 {
		t.Fatalf("expected defaults replaced by 3 locations, got %d", got)
	}
	imports := cfg.ImportLocations()
	if len(imports) != 2 || imports[1].Type != config.TypeNetwork {
		t.Fatalf("unexpected imports %+v", imports)
	}
	failed, _ := cfg.FailedLocation()
	if failed.Name != config.RoleFailed {
		t.Fatalf("expected failed location name to default to role, got %q", failed.Name)
	}
	if cfg.Monitoring.Mode != config.ModePush {
		t.Fatalf("expected push mode, got %q", cfg.Monitoring.Mode)
	}
	if strings.Join(cfg.Monitoring.Extensions, ",") != ".mov,.mxf" {
		t.Fatalf("unexpected extensions %v", cfg.Monitoring.Extensions)
	}
	if cfg.Cleanup.ProcessingTimeout.Duration() != 72*time.Hour {
		t.Fatalf("unexpected timeout %s", cfg.Cleanup.ProcessingTimeout.Duration())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json log format, got %q", cfg.Logging.Format)
	}
}

func TestLoadReadsDotEnvFallbacks(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())
	// Setenv registers restoration; the unset makes the keys absent so .env applies.
	t.Setenv("DROPWATCH_API_TOKEN", "")
	t.Setenv("NTFY_TOPIC", "")
	os.Unsetenv("DROPWATCH_API_TOKEN")
	os.Unsetenv("NTFY_TOPIC")

	configPath := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envBody := "DROPWATCH_API_TOKEN=from-dotenv\nNTFY_TOPIC=drops\n"
	if err := os.WriteFile(filepath.Join(tempHome, ".env"), []byte(envBody), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("DROPWATCH_API_TOKEN")
		os.Unsetenv("NTFY_TOPIC")
	})

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "from-dotenv" {
		t.Fatalf("expected api token from .env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Notifications.NtfyTopic != "drops" {
		t.Fatalf("expected ntfy topic from .env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsBadLocations(t *testing.T) {
	cases := []struct {
		name      string
		locations []config.Location
		wantErr   string
	}{
		{
			name:      "no import",
			locations: []config.Location{{Path: "/f", Role: config.RoleFailed, Type: config.TypeLocal}},
			wantErr:   "at least one import",
		},
		{
			name:      "no failed",
			locations: []config.Location{{Path: "/i", Role: config.RoleImport, Type: config.TypeLocal}},
			wantErr:   "exactly one failed",
		},
		{
			name: "duplicate path",
			locations: []config.Location{
				{Path: "/i", Role: config.RoleImport, Type: config.TypeLocal},
				{Path: "/i", Role: config.RoleFailed, Type: config.TypeLocal},
			},
			wantErr: "duplicates",
		},
		{
			name: "bad role",
			locations: []config.Location{
				{Path: "/i", Role: "archive", Type: config.TypeLocal},
			},
			wantErr: "role must be",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Locations = tc.locations
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateRejectsBadPatternAndRule(t *testing.T) {
	cfg := config.Default()
	cfg.Validation.FilenamePattern = "([a-z"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid pattern error")
	}

	if err := config.ValidateRule(config.Rule{Enabled: true, Value: 0, Unit: config.UnitDays}); err == nil {
		t.Fatal("expected error for enabled rule with zero value")
	}
	if err := config.ValidateRule(config.Rule{Enabled: false, Value: 0, Unit: config.UnitHours}); err != nil {
		t.Fatalf("disabled rule should be valid: %v", err)
	}
	if err := config.ValidateRule(config.Rule{Enabled: true, Value: 1, Unit: "weeks"}); err == nil {
		t.Fatal("expected unit error")
	}
}

func TestRuleDurationDisabled(t *testing.T) {
	if d := (config.Rule{Enabled: false, Value: 4, Unit: config.UnitHours}).Duration(); d != 0 {
		t.Fatalf("expected disabled rule to be zero, got %s", d)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	target := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("Load sample: %v", err)
	}
}
