// Package logging assembles structured slog loggers and formatting helpers used
// across dropwatch.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so HTTP handlers and the
// reconciliation engine tag log lines with file names, locations, and request
// IDs. The package also provides a no-op logger for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing as the rest of the daemon.
package logging
