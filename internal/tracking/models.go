package tracking

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dropwatch/internal/config"
)

// Status represents the lifecycle of a tracked file.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusPublished  Status = "published"
	StatusTimedOut   Status = "timed-out"
)

var allStatuses = []Status{
	StatusProcessing,
	StatusFailed,
	StatusPublished,
	StatusTimedOut,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string to a Status, accepting case and separator variations.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "timedout" {
		normalized = string(StatusTimedOut)
	}
	for _, status := range allStatuses {
		if string(status) == normalized {
			return status, true
		}
	}
	return "", false
}

// Terminal reports whether the status only changes through re-import.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusPublished, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when an operation targets a name with no record.
var ErrNotFound = errors.New("tracked file not found")

// File is one tracked file record, keyed by base name.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	Remarks     string    `json:"remarks,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

const remarkSeparator = "; "

// MergeRemark appends text to existing unless existing already contains it.
func MergeRemark(existing, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return existing
	}
	if existing == "" {
		return text
	}
	if strings.Contains(existing, text) {
		return existing
	}
	return existing + remarkSeparator + text
}

// Location is a watched directory persisted in the store.
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Domain   string `json:"domain,omitempty"`
}

// Label is the human-readable source label for records observed here.
func (l Location) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return filepath.Base(l.Path)
}

// RuleKey names one of the three cleanup rules.
type RuleKey string

const (
	RuleStatusRetention   RuleKey = "status_retention"
	RuleFileRetention     RuleKey = "file_retention"
	RuleProcessingTimeout RuleKey = "processing_timeout"
)

// Settings is the runtime configuration read by the engine and sweeper at
// their checkpoints.
type Settings struct {
	Locations         []Location  `json:"locations"`
	Extensions        []string    `json:"extensions"`
	StatusRetention   config.Rule `json:"status_retention"`
	FileRetention     config.Rule `json:"file_retention"`
	ProcessingTimeout config.Rule `json:"processing_timeout"`
}

// SettingsFromConfig builds the settings a fresh store is seeded with.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Extensions:        append([]string(nil), cfg.Monitoring.Extensions...),
		StatusRetention:   cfg.Cleanup.StatusRetention,
		FileRetention:     cfg.Cleanup.FileRetention,
		ProcessingTimeout: cfg.Cleanup.ProcessingTimeout,
	}
	for _, loc := range cfg.Locations {
		settings.Locations = append(settings.Locations, Location{
			Name:     loc.Name,
			Path:     loc.Path,
			Role:     loc.Role,
			Type:     loc.Type,
			Username: loc.Username,
			Password: loc.Password,
			Domain:   loc.Domain,
		})
	}
	return settings
}

// ImportLocations returns the import locations in configured order.
func (s Settings) ImportLocations() []Location {
	var out []Location
	for _, loc := range s.Locations {
		if loc.Role == config.RoleImport {
			out = append(out, loc)
		}
	}
	return out
}

// FailedLocation returns the failed location.
func (s Settings) FailedLocation() (Location, bool) {
	for _, loc := range s.Locations {
		if loc.Role == config.RoleFailed {
			return loc, true
		}
	}
	return Location{}, false
}

// Tracks reports whether a file name passes the extension filter. An empty
// filter tracks everything.
func (s Settings) Tracks(name string) bool {
	if len(s.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(s.Extensions, ext)
}

// Rule returns the rule stored under key.
func (s Settings) Rule(key RuleKey) config.Rule {
	switch key {
	case RuleStatusRetention:
		return s.StatusRetention
	case RuleFileRetention:
		return s.FileRetention
	default:
		return s.ProcessingTimeout
	}
}

// HealthSummary counts records per status.
type HealthSummary struct {
	Total      int `json:"total"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Published  int `json:"published"`
	TimedOut   int `json:"timed_out"`
}

// DatabaseHealth describes the on-disk database for diagnostics.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int    `json:"schema_version"`
	TotalFiles       int    `json:"total_files"`
	Error            string `json:"error,omitempty"`
}

// TimeoutRemark is the remark attached when a record times out under rule.
func TimeoutRemark(rule config.Rule) string {
	unit := rule.Unit
	if rule.Value == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}
	return fmt.Sprintf("no change for %d %s", rule.Value, unit)
}
