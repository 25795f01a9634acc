// Package page tracks the lifecycle of one logical host page: when elements
// appear, when the user navigates away, and which per-page state must be
// reset before reinitialization.
package page

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the explicit per-page state shared by every component. It
// replaces scattered injected/ready flags: the navigation watcher owns the
// current session and every async completion is validated against its epoch
// before being applied.
type Session struct {
	// Epoch uniquely identifies this logical page visit. Completions stamped
	// with an older epoch are discarded.
	Epoch string
	// URL is the logical page URL at session start.
	URL string

	mu          sync.Mutex
	injected    bool
	fieldsReady bool
}

// NewSession starts a fresh page session for url.
func NewSession(url string) *Session {
	return &Session{
		Epoch: uuid.NewString(),
		URL:   url,
	}
}

// MarkInjected records that the UI container has been attached.
func (s *Session) MarkInjected(v bool) {
	s.mu.Lock()
	s.injected = v
	s.mu.Unlock()
}

// Injected reports whether the UI container is currently attached.
func (s *Session) Injected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injected
}

// MarkFieldsReady records that the injected fields accept input.
func (s *Session) MarkFieldsReady(v bool) {
	s.mu.Lock()
	s.fieldsReady = v
	s.mu.Unlock()
}

// FieldsReady reports whether the injected fields accept input.
func (s *Session) FieldsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldsReady
}
