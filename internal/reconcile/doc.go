// Package reconcile derives tracked file status from what the watched
// directories contain.
//
// An Engine owns a bounded queue drained by a single worker. Watch events,
// full snapshots, grace-window expirations, and timeout firings all pass
// through that queue, so every store mutation is a read, decide, write
// sequence with no other mutation from the engine in between. Rules are
// applied in priority order: presence in the failed location, then a fresh
// appearance in an import location, then publication inferred from absence,
// then timeout.
//
// Timers never touch engine state directly. They enqueue an item carrying
// their generation number and the worker ignores firings whose generation is
// no longer registered.
package reconcile
