// Package preflight provides readiness checks for the directories and
// services dropwatch depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check. A
//     failing location does not stop the daemon; it reads as unavailable
//     until it recovers.
//   - The status endpoint and the CLI "dropwatch status" command display the
//     same results.
package preflight
