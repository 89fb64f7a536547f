// Package logs tails the daemon's JSON log file for the CLI.
//
// Reads are bounded: "last N lines" keeps a ring buffer, and follow mode
// resumes from a byte offset. Follow waits on fsnotify write events for the
// file and falls back to polling when a watch cannot be placed. Lines can be
// narrowed to a single tracked file by its structured "file" field.
package logs
