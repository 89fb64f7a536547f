// Package main hosts the dropwatch CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, launches and
// stops it in the background, and translates the remaining invocations into
// IPC calls against the running daemon. Status falls back to reading the
// store directly when the daemon is offline.
package main
