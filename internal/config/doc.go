// Package config loads, normalizes, and validates dropwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours .env files plus environment
// fallbacks such as DROPWATCH_API_TOKEN and NTFY_TOPIC. The Config type
// centralizes the watched locations, monitoring timings, and cleanup rules the
// daemon needs.
//
// The values here only seed the status store on first start. After that the
// settings persisted in the store are authoritative and are re-read by the
// engine at its checkpoints.
package config
