package daemon

import (
	"context"
	"time"

	"dropwatch/internal/api"
	"dropwatch/internal/sweeper"
)

func toDaemonStatus(status Status) api.DaemonStatus {
	out := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Mode:         status.Mode,
		QueueDepth:   status.QueueDepth,
		DBPath:       status.DBPath,
		LockFilePath: status.LockFilePath,
		Counts:       api.MergeStats(status.Counts),
		Checks:       api.FromChecks(status.Checks),
	}
	if !status.StartedAt.IsZero() {
		out.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if status.LastSweep != nil {
		result := toSweepResult(*status.LastSweep, status.LastSweepAt)
		out.LastSweep = &result
	}
	return out
}

func toSweepResult(result sweeper.Result, finished time.Time) api.SweepResult {
	out := api.SweepResult{
		TimedOut:       result.TimedOut,
		RecordsDeleted: result.RecordsDeleted,
		FilesDeleted:   result.FilesDeleted,
		Errors:         result.Errors,
		Skipped:        result.Skipped,
		DurationMS:     result.Duration.Milliseconds(),
	}
	if !finished.IsZero() {
		out.FinishedAt = finished.UTC().Format(time.RFC3339)
	}
	return out
}

// StatusDTO returns Status in its wire form.
func (d *Daemon) StatusDTO(ctx context.Context) api.DaemonStatus {
	return toDaemonStatus(d.Status(ctx))
}

// SweepDTO runs a sweep and returns the result in its wire form.
func (d *Daemon) SweepDTO(ctx context.Context) api.SweepResult {
	return toSweepResult(d.Sweep(ctx), time.Now())
}
