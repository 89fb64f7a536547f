package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"dropwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The import and failed directories exist; short timings keep engine tests fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Locations = []config.Location{
		{Name: "Import", Path: filepath.Join(base, "import"), Role: config.RoleImport, Type: config.TypeLocal},
		{Name: "Failed", Path: filepath.Join(base, "failed"), Role: config.RoleFailed, Type: config.TypeLocal},
	}
	cfgVal.Monitoring.QuietPeriodMS = 0
	cfgVal.Monitoring.GraceWindowMS = 50

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, loc := range builder.cfg.Locations {
		if err := os.MkdirAll(loc.Path, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", loc.Path, err)
		}
	}

	return builder.cfg
}

// WithExtraImport adds a second import location named label.
func WithExtraImport(label string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Locations = append(b.cfg.Locations, config.Location{
			Name: label,
			Path: filepath.Join(b.baseDir, "import-"+label),
			Role: config.RoleImport,
			Type: config.TypeLocal,
		})
	}
}

// WithTimeout sets the processing timeout rule in hours.
func WithTimeout(hours int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cleanup.ProcessingTimeout = config.Rule{Enabled: hours > 0, Value: hours, Unit: config.UnitHours}
	}
}

// WithFilenamePattern sets the filename validation rule.
func WithFilenamePattern(pattern, description string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Validation.FilenamePattern = pattern
		b.cfg.Validation.PatternDescription = description
	}
}

// ImportDir returns the first import directory of cfg.
func ImportDir(cfg *config.Config) string {
	return cfg.ImportLocations()[0].Path
}

// FailedDir returns the failed directory of cfg.
func FailedDir(cfg *config.Config) string {
	loc, _ := cfg.FailedLocation()
	return loc.Path
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
