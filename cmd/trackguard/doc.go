// Package main hosts the TrackGuard CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into the
// daemon run loop, staging inspection, and configuration scaffolding. Keep
// this package lean: add new functionality by extending the internal packages
// first, then surface it through dedicated commands or flags here.
package main
