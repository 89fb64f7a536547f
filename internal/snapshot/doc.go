// Package snapshot lists the top level of watched directories.
//
// A Snapshotter reports which files are present in each location and
// separates files that are still being written (pending) from files whose
// size and mtime have held still for the quiet period (stable). Missing or
// unreadable directories produce an empty listing marked unavailable rather
// than an error, so callers keep running while a share is offline.
package snapshot
