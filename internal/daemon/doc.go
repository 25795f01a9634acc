// Package daemon coordinates the long-running TrackGuard process.
//
// It wires configuration, the staging store, the browser session, and the
// protection engine into a single lifecycle with flock-based locking to
// prevent multiple instances. Orchestration logic lives here; the individual
// workflow pieces live in their respective packages.
package daemon
