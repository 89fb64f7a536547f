// Package notifications delivers tracked-file events via ntfy.
//
// NewService publishes to the topic configured in config.toml and degrades to
// a no-op when no topic is set. Observer adapts the service to engine
// transitions so failures and timeouts reach an operator's phone without the
// engine waiting on HTTP.
package notifications
