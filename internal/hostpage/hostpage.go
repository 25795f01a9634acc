// Package hostpage declares the capability set the engine needs from the
// externally-owned page it attaches to. The engine never reaches into a
// browser directly; it sees only this interface, so an absent capability is a
// typed not-configured state rather than a runtime existence check.
package hostpage

import (
	"context"
	"time"
)

// NavigationKind classifies how a logical page change was observed.
type NavigationKind string

const (
	// NavPush is a programmatic history push.
	NavPush NavigationKind = "push"
	// NavReplace is a programmatic history replace.
	NavReplace NavigationKind = "replace"
	// NavPop is browser back/forward traversal.
	NavPop NavigationKind = "pop"
	// NavRouteEvent is an app-emitted custom route event.
	NavRouteEvent NavigationKind = "route_event"
	// NavLoad is the window load fallback.
	NavLoad NavigationKind = "load"
	// NavPoll is the periodic URL comparison fallback.
	NavPoll NavigationKind = "poll"
)

// NavigationEvent is one raw page-transition observation, before debouncing.
type NavigationEvent struct {
	Kind NavigationKind
	URL  string
	At   time.Time
}

// Position places injected markup relative to its anchor.
type Position string

const (
	BeforeBegin Position = "beforebegin"
	AfterBegin  Position = "afterbegin"
	BeforeEnd   Position = "beforeend"
	AfterEnd    Position = "afterend"
)

// MarkupOp is one injection primitive: insert HTML relative to an anchor.
type MarkupOp struct {
	AnchorSelector string
	Position       Position
	HTML           string
}

// Page is the host-page adapter contract.
type Page interface {
	// URL reports the current logical page URL.
	URL(ctx context.Context) (string, error)
	// Snapshot returns the current markup of the observed tree.
	Snapshot(ctx context.Context) (string, error)
	// Mutations delivers a signal per structural change to the observed
	// tree. The channel is never closed while the page is attached; signals
	// may be coarser than individual mutations.
	Mutations() <-chan struct{}
	// Navigations delivers raw page-transition events from every source the
	// adapter can observe.
	Navigations() <-chan NavigationEvent
	// ReadField returns the current value of a form input.
	ReadField(ctx context.Context, selector string) (string, error)
	// WriteField sets the value of a form input.
	WriteField(ctx context.Context, selector, value string) error
	// Apply performs one markup injection.
	Apply(ctx context.Context, op MarkupOp) error
	// Remove deletes all elements matching selector.
	Remove(ctx context.Context, selector string) error
	// Close detaches from the page and releases adapter resources.
	Close() error
}
