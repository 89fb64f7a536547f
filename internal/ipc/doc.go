// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// Request and response types reuse the HTTP API DTOs from internal/api so the
// socket and the REST surface report identical shapes. Domain errors cross
// the socket as plain messages; callers that need status codes use the HTTP
// API instead.
package ipc
