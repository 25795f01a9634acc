// Package notifications delivers protection events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The engine depends only on the Service interface; extend this
// package if you need alternative transports.
package notifications
