// Package daemon coordinates the long-running dropwatch process.
//
// It wires the status store, the snapshotter, the reconciliation engine, the
// event source, and the cleanup sweeper into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon also owns the
// manual actions exposed to the dashboard (clear, retry, rename-and-retry),
// the HTTP API, and the Prometheus registry its components report into.
//
// Keep orchestration logic here: the status rules live in reconcile and the
// cleanup rules in sweeper, while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
