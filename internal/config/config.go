package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Location roles.
const (
	RoleImport = "import"
	RoleFailed = "failed"
)

// Location types.
const (
	TypeLocal   = "local"
	TypeNetwork = "network"
)

// Monitoring modes.
const (
	ModeAuto = "auto"
	ModePush = "push"
	ModePoll = "poll"
)

// Rule units.
const (
	UnitHours = "hours"
	UnitDays  = "days"
)

// Paths contains state directories and the API bind address.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Location describes one watched directory. Network locations are expected
// to be mounted at Path; the credentials are kept for display and remount
// tooling only.
type Location struct {
	Name     string `toml:"name"`
	Path     string `toml:"path"`
	Role     string `toml:"role"`
	Type     string `toml:"type"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Domain   string `toml:"domain"`
}

// Monitoring controls how directory changes are observed.
type Monitoring struct {
	Mode             string   `toml:"mode"`
	PollInterval     int      `toml:"poll_interval"`
	FallbackInterval int      `toml:"fallback_interval"`
	QuietPeriodMS    int      `toml:"quiet_period_ms"`
	GraceWindowMS    int      `toml:"grace_window_ms"`
	Extensions       []string `toml:"extensions"`
	QueueSize        int      `toml:"queue_size"`
}

// Rule is an enable flag plus an amount in hours or days.
type Rule struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Value   int    `toml:"value" json:"value"`
	Unit    string `toml:"unit" json:"unit"`
}

// Duration converts the rule to a time.Duration. Disabled or non-positive
// rules return 0.
func (r Rule) Duration() time.Duration {
	if !r.Enabled || r.Value <= 0 {
		return 0
	}
	if r.Unit == UnitDays {
		return time.Duration(r.Value) * 24 * time.Hour
	}
	return time.Duration(r.Value) * time.Hour
}

// Cleanup contains the sweeper interval and its three rules.
type Cleanup struct {
	Interval          int  `toml:"interval"`
	StatusRetention   Rule `toml:"status_retention"`
	FileRetention     Rule `toml:"file_retention"`
	ProcessingTimeout Rule `toml:"processing_timeout"`
}

// Validation contains the optional filename rule applied to failed files.
type Validation struct {
	FilenamePattern    string `toml:"filename_pattern"`
	PatternDescription string `toml:"pattern_description"`
	GenericRemark      string `toml:"generic_remark"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failed         bool   `toml:"failed"`
	TimedOut       bool   `toml:"timed_out"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for dropwatch.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and API bind address
//   - Locations: watched import and failed directories
//   - Monitoring: push/poll mode and timing
//   - Cleanup: sweeper interval and retention rules
//   - Validation: filename rule used for failure remarks
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Locations     []Location    `toml:"locations"`
	Monitoring    Monitoring    `toml:"monitoring"`
	Cleanup       Cleanup       `toml:"cleanup"`
	Validation    Validation    `toml:"validation"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// Explicit locations replace the defaults instead of appending.
		cfg.Locations = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Locations) == 0 {
			cfg.Locations = Default().Locations
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files next to the config and in the working
// directory. Existing environment variables win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dropwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. Watched
// locations are not created; a missing location reads as empty.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ImportLocations returns every location with the import role, in config order.
func (c *Config) ImportLocations() []Location {
	var out []Location
	for _, loc := range c.Locations {
		if loc.Role == RoleImport {
			out = append(out, loc)
		}
	}
	return out
}

// FailedLocation returns the location with the failed role.
func (c *Config) FailedLocation() (Location, bool) {
	for _, loc := range c.Locations {
		if loc.Role == RoleFailed {
			return loc, true
		}
	}
	return Location{}, false
}

// PollInterval returns the full-resync interval in poll mode.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitoring.PollInterval) * time.Second
}

// FallbackInterval returns the resync interval used alongside push mode.
func (c *Config) FallbackInterval() time.Duration {
	return time.Duration(c.Monitoring.FallbackInterval) * time.Second
}

// QuietPeriod returns how long a file must stay unchanged before it counts as present.
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Monitoring.QuietPeriodMS) * time.Millisecond
}

// GraceWindow returns the delay between a removal event and the publish decision.
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.Monitoring.GraceWindowMS) * time.Millisecond
}

// CleanupInterval returns the sweeper period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.Interval) * time.Second
}

// StorePath returns the SQLite database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.StateDir, "dropwatch.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "dropwatch.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "dropwatch.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
