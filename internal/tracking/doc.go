// Package tracking persists tracked file records and the watcher settings in
// SQLite.
//
// The Store is keyed on file base name: at most one record exists per name
// and every write is an upsert. Status values move processing → published,
// failed, or timed-out; re-import returns a record to processing. Settings
// (watched locations, monitored extensions, cleanup rules) are seeded from the
// config file on first open and are authoritative afterwards.
//
// Every mutation is a single statement or transaction and is retried on
// SQLITE_BUSY, so the reconciliation engine and the cleanup sweeper can write
// concurrently without coordinating. Schema changes bump schemaVersion.
package tracking
