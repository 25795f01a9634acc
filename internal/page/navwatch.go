package page

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trackguard/internal/hostpage"
	"trackguard/internal/logging"
)

// Navigated is the normalized page-transition signal: one per logical page
// change, bursts from a single transition collapsed by the debounce window.
type Navigated struct {
	Session *Session
	Event   hostpage.NavigationEvent
}

// Watcher folds every way the host app can change logical page (history
// push/replace, back/forward, app route events) into one debounced signal,
// and owns the current page session. When route events are missed, a periodic
// URL comparison acts as a reliability fallback.
type Watcher struct {
	page         hostpage.Page
	debounce     time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	out chan Navigated

	mu      sync.Mutex
	current *Session
	resets  []func(old *Session)
}

// NewWatcher builds a Watcher. debounce collapses event bursts; pollInterval
// drives the fallback URL comparison.
func NewWatcher(page hostpage.Page, debounce, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Watcher{
		page:         page,
		debounce:     debounce,
		pollInterval: pollInterval,
		logger:       logging.NewComponentLogger(logger, "navwatch"),
		out:          make(chan Navigated, 4),
	}
}

// OnReset registers a hook run with the outgoing session before each new
// session is published. Components use it to drop per-page state.
func (w *Watcher) OnReset(fn func(old *Session)) {
	w.mu.Lock()
	w.resets = append(w.resets, fn)
	w.mu.Unlock()
}

// Current returns the active page session.
func (w *Watcher) Current() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Events delivers normalized navigation signals.
func (w *Watcher) Events() <-chan Navigated {
	return w.out
}

// Run observes the page until ctx is done. The current page is emitted as an
// initial signal so the engine processes the page it attached to.
func (w *Watcher) Run(ctx context.Context) error {
	startURL, err := w.page.URL(ctx)
	if err != nil {
		return err
	}
	initial := hostpage.NavigationEvent{Kind: hostpage.NavLoad, URL: startURL, At: time.Now()}
	if err := w.commit(ctx, initial); err != nil {
		return err
	}

	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()

	var pending *hostpage.NavigationEvent
	var debounce *time.Timer
	var debounceC <-chan time.Time

	arm := func(ev hostpage.NavigationEvent) {
		pending = &ev
		if debounce == nil {
			debounce = time.NewTimer(w.debounce)
		} else {
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.debounce)
		}
		debounceC = debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.page.Navigations():
			arm(ev)
		case <-debounceC:
			debounceC = nil
			if pending != nil {
				ev := *pending
				pending = nil
				if err := w.commit(ctx, ev); err != nil {
					return err
				}
			}
		case <-poll.C:
			url, err := w.page.URL(ctx)
			if err != nil {
				w.logger.Debug("fallback url check failed", logging.Error(err))
				continue
			}
			if current := w.Current(); current != nil && current.URL != url {
				arm(hostpage.NavigationEvent{Kind: hostpage.NavPoll, URL: url, At: time.Now()})
			}
		}
	}
}

// commit resets per-page state and publishes the new session.
func (w *Watcher) commit(ctx context.Context, ev hostpage.NavigationEvent) error {
	w.mu.Lock()
	old := w.current
	if old != nil && old.URL == ev.URL && ev.Kind != hostpage.NavLoad {
		// Same logical page; nothing to reset.
		w.mu.Unlock()
		return nil
	}
	session := NewSession(ev.URL)
	w.current = session
	resets := make([]func(*Session), len(w.resets))
	copy(resets, w.resets)
	w.mu.Unlock()

	for _, reset := range resets {
		reset(old)
	}

	w.logger.Debug("navigated",
		logging.String("url", ev.URL),
		logging.String("kind", string(ev.Kind)),
		logging.String(logging.FieldEpoch, session.Epoch))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.out <- Navigated{Session: session, Event: ev}:
		return nil
	}
}
