package page

import (
	"context"
	"log/slog"
	"time"

	"trackguard/internal/faults"
	"trackguard/internal/hostpage"
	"trackguard/internal/logging"
)

// Waiter resolves when a selector becomes present (or absent) in the observed
// tree. It re-evaluates on every structural change signal rather than on a
// fixed interval, and resolves immediately when the predicate already holds.
// Purely observational; it never mutates the page.
type Waiter struct {
	page   hostpage.Page
	hub    *MutationHub
	logger *slog.Logger
}

// NewWaiter builds a Waiter over the given page. Change signals come through
// the hub so concurrent waits each see every mutation.
func NewWaiter(page hostpage.Page, hub *MutationHub, logger *slog.Logger) *Waiter {
	return &Waiter{
		page:   page,
		hub:    hub,
		logger: logging.NewComponentLogger(logger, "waiter"),
	}
}

// Await blocks until selector matches an element, returning its markup. On
// timeout it fails with faults.ErrElementNotFound; callers decide whether to
// retry with a bounded budget.
func (w *Waiter) Await(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	return w.wait(ctx, selector, timeout, true)
}

// AwaitGone blocks until no element matches selector. Used to detect
// host-page removal of injected containers.
func (w *Waiter) AwaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := w.wait(ctx, selector, timeout, false)
	return err
}

func (w *Waiter) wait(ctx context.Context, selector string, timeout time.Duration, wantPresent bool) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Subscribed before the first check so a mutation landing between the
	// check and the receive is not lost.
	signals, unsubscribe := w.hub.Subscribe()
	defer unsubscribe()

	check := func() (string, bool, error) {
		snapshot, err := w.page.Snapshot(ctx)
		if err != nil {
			return "", false, err
		}
		if wantPresent {
			html, found, err := hostpage.Extract(snapshot, selector)
			return html, found, err
		}
		present, err := hostpage.Exists(snapshot, selector)
		return "", !present, err
	}

	// Resolve immediately when the predicate already holds.
	if html, done, err := check(); err != nil {
		return "", err
	} else if done {
		return html, nil
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			w.logger.Debug("wait timed out",
				logging.String("selector", selector),
				logging.Bool("want_present", wantPresent),
				logging.Duration("timeout", timeout))
			return "", faults.Wrap(faults.ErrElementNotFound, "waiter", "await", selector, nil)
		case <-signals:
			html, done, err := check()
			if err != nil {
				return "", err
			}
			if done {
				return html, nil
			}
		}
	}
}
