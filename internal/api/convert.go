package api

import (
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/preflight"
	"dropwatch/internal/tracking"
)

// FromFile converts a record into its DTO.
func FromFile(file tracking.File) TrackedFile {
	return TrackedFile{
		ID:        file.ID,
		Name:      file.Name,
		Status:    string(file.Status),
		Source:    file.Source,
		Remarks:   file.Remarks,
		CreatedAt: formatTime(file.CreatedAt),
		UpdatedAt: formatTime(file.LastUpdated),
	}
}

// FromFiles converts records preserving order. The result is never nil so it
// encodes as an empty JSON array.
func FromFiles(files []tracking.File) []TrackedFile {
	out := make([]TrackedFile, 0, len(files))
	for _, file := range files {
		out = append(out, FromFile(file))
	}
	return out
}

// MergeStats returns counts for every known status, zero-filled.
func MergeStats(stats map[tracking.Status]int) map[string]int {
	out := make(map[string]int, len(tracking.AllStatuses()))
	for _, status := range tracking.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// FromSettings converts stored settings into the dashboard view.
func FromSettings(settings tracking.Settings) Settings {
	locations := make([]Location, 0, len(settings.Locations))
	for _, loc := range settings.Locations {
		locations = append(locations, Location{
			ID:          loc.ID,
			Name:        loc.Name,
			Path:        loc.Path,
			Role:        loc.Role,
			Type:        loc.Type,
			Username:    loc.Username,
			Domain:      loc.Domain,
			HasPassword: loc.Password != "",
		})
	}
	extensions := settings.Extensions
	if extensions == nil {
		extensions = []string{}
	}
	return Settings{
		Locations:         locations,
		Extensions:        extensions,
		StatusRetention:   fromRule(settings.StatusRetention),
		FileRetention:     fromRule(settings.FileRetention),
		ProcessingTimeout: fromRule(settings.ProcessingTimeout),
	}
}

func fromRule(rule config.Rule) Rule {
	return Rule{Enabled: rule.Enabled, Value: rule.Value, Unit: rule.Unit}
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// ParseTime reads a timestamp produced by this package. Empty or malformed
// values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateTimeFormat, value); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
