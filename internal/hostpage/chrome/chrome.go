// Package chrome implements the hostpage.Page contract on a Chrome DevTools
// session driven by chromedp. History patches and a MutationObserver are
// installed into every new document so the page reports its own transitions
// and structural changes back through DevTools bindings.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"trackguard/internal/hostpage"
	"trackguard/internal/logging"
)

const (
	navBinding      = "__trackguardNav"
	mutationBinding = "__trackguardMutation"
)

// instrumentScript is evaluated in every new document. It patches the history
// API, forwards app route events, and installs a MutationObserver; each
// observation is reported through a DevTools binding.
const instrumentScript = `(() => {
  if (window.__trackguardInstrumented) { return; }
  window.__trackguardInstrumented = true;
  const nav = (kind) => {
    if (window.` + navBinding + `) {
      window.` + navBinding + `(JSON.stringify({kind: kind, url: location.href}));
    }
  };
  const push = history.pushState.bind(history);
  history.pushState = function () { push.apply(history, arguments); nav('push'); };
  const replace = history.replaceState.bind(history);
  history.replaceState = function () { replace.apply(history, arguments); nav('replace'); };
  window.addEventListener('popstate', () => nav('pop'));
  window.addEventListener('routechange', () => nav('route_event'));
  window.addEventListener('load', () => nav('load'));
  const observer = new MutationObserver(() => {
    if (window.` + mutationBinding + `) { window.` + mutationBinding + `(''); }
  });
  observer.observe(document.documentElement, {childList: true, subtree: true});
})();`

// Options configures the browser session.
type Options struct {
	// RemoteDebuggingURL attaches to an existing browser when set; otherwise
	// a browser is launched.
	RemoteDebuggingURL string
	Headless           bool
	UserAgent          string
}

// Session is a chromedp-backed host page.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger

	mutations   chan struct{}
	navigations chan hostpage.NavigationEvent
}

var _ hostpage.Page = (*Session)(nil)

type navPayload struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// Attach starts a browser session, navigates to startURL, and installs the
// page instrumentation.
func Attach(ctx context.Context, opts Options, startURL string, logger *slog.Logger) (*Session, error) {
	logger = logging.NewComponentLogger(logger, "chrome")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteDebuggingURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteDebuggingURL)
	} else {
		execOpts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
		)
		if opts.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		mutations:   make(chan struct{}, 64),
		navigations: make(chan hostpage.NavigationEvent, 16),
	}

	chromedp.ListenTarget(browserCtx, s.handleEvent)

	err := chromedp.Run(browserCtx,
		runtime.AddBinding(navBinding),
		runtime.AddBinding(mutationBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(instrumentScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(startURL),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Evaluate(instrumentScript, nil),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("attach browser session: %w", err)
	}

	return s, nil
}

func (s *Session) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		switch ev.Name {
		case mutationBinding:
			s.signalMutation()
		case navBinding:
			var payload navPayload
			if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
				s.logger.Debug("discarding malformed nav payload", logging.Error(err))
				return
			}
			s.signalNavigation(hostpage.NavigationEvent{
				Kind: hostpage.NavigationKind(payload.Kind),
				URL:  payload.URL,
				At:   time.Now(),
			})
		}
	case *page.EventNavigatedWithinDocument:
		s.signalNavigation(hostpage.NavigationEvent{
			Kind: hostpage.NavPush,
			URL:  ev.URL,
			At:   time.Now(),
		})
	case *page.EventFrameNavigated:
		if ev.Frame != nil && ev.Frame.ParentID == "" {
			s.signalNavigation(hostpage.NavigationEvent{
				Kind: hostpage.NavLoad,
				URL:  ev.Frame.URL,
				At:   time.Now(),
			})
		}
	case *dom.EventDocumentUpdated:
		s.signalMutation()
	}
}

func (s *Session) signalMutation() {
	select {
	case s.mutations <- struct{}{}:
	default:
		// A pending signal already covers this change.
	}
}

func (s *Session) signalNavigation(ev hostpage.NavigationEvent) {
	select {
	case s.navigations <- ev:
	default:
		s.logger.Debug("navigation channel full, dropping event",
			logging.String("url", ev.URL),
			logging.String("kind", string(ev.Kind)))
	}
}

// URL reports the current page location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Snapshot returns the full document markup.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot document: %w", err)
	}
	return html, nil
}

// Mutations implements hostpage.Page.
func (s *Session) Mutations() <-chan struct{} {
	return s.mutations
}

// Navigations implements hostpage.Page.
func (s *Session) Navigations() <-chan hostpage.NavigationEvent {
	return s.navigations
}

// ReadField returns the value of a form input.
func (s *Session) ReadField(ctx context.Context, selector string) (string, error) {
	var value string
	if err := s.run(ctx, chromedp.Value(selector, &value, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read field %s: %w", selector, err)
	}
	return value, nil
}

// WriteField sets the value of a form input.
func (s *Session) WriteField(ctx context.Context, selector, value string) error {
	if err := s.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("write field %s: %w", selector, err)
	}
	return nil
}

// Apply inserts markup relative to an anchor element.
func (s *Session) Apply(ctx context.Context, op hostpage.MarkupOp) error {
	anchor, err := json.Marshal(op.AnchorSelector)
	if err != nil {
		return err
	}
	html, err := json.Marshal(op.HTML)
	if err != nil {
		return err
	}
	position, err := json.Marshal(string(op.Position))
	if err != nil {
		return err
	}
	script := fmt.Sprintf(
		`(() => { const el = document.querySelector(%s); if (!el) { throw new Error('anchor not found'); } el.insertAdjacentHTML(%s, %s); })()`,
		anchor, position, html,
	)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("apply markup at %s: %w", op.AnchorSelector, err)
	}
	return nil
}

// Remove deletes all elements matching selector.
func (s *Session) Remove(ctx context.Context, selector string) error {
	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`document.querySelectorAll(%s).forEach((el) => el.remove())`, sel)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("remove %s: %w", selector, err)
	}
	return nil
}

// Close tears down the browser session.
func (s *Session) Close() error {
	s.cancel()
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

// run executes actions on the browser context while honoring the caller's
// deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.ctx, actions...)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
