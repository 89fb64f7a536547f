// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates tracked-file records and settings into
// transport-friendly DTOs that the dashboard and the CLI render without
// coupling to internal types.
//
// # Key Types
//
// TrackedFile: transport representation of a record.
//
// DaemonStatus: running state, event source mode, queue depth, record counts,
// preflight checks, and the last sweep result.
//
// Settings: watched locations (credentials reduced to a presence flag),
// monitored extensions, and cleanup rules.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript consumers. Statuses are exposed
// as their lowercase names. Timestamps use RFC3339 with milliseconds.
package api
