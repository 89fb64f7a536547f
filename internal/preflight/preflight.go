package preflight

import (
	"context"
	"fmt"

	"dropwatch/internal/config"
	"dropwatch/internal/tracking"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check. Locations come from the stored
// settings since they may differ from the config file.
func RunAll(ctx context.Context, cfg *config.Config, settings tracking.Settings) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}

	for _, loc := range settings.Locations {
		name := fmt.Sprintf("%s location %q", loc.Role, loc.Label())
		if loc.Role == config.RoleFailed {
			// Retry and file retention move and delete here.
			results = append(results, CheckDirectoryAccess(name, loc.Path))
			continue
		}
		results = append(results, CheckDirectoryReadable(name, loc.Path))
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
