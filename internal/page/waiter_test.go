package page_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackguard/internal/faults"
	"trackguard/internal/logging"
	"trackguard/internal/page"
	"trackguard/internal/testsupport"
)

const emptyMarkup = `<html><body><div id="app"></div></body></html>`
const formMarkup = `<html><body><div id="app"><form class="track-edit-form"><input name="track_name"></form></div></body></html>`

// newWaiter builds a waiter with a running mutation hub behind it.
func newWaiter(t *testing.T, fake *testsupport.FakePage) *page.Waiter {
	t.Helper()
	hub := page.NewMutationHub(fake)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	return page.NewWaiter(fake, hub, logging.NewNop())
}

func TestAwaitResolvesImmediately(t *testing.T) {
	fake := testsupport.NewFakePage("https://tracks.example.com/tracks/1/edit", formMarkup)
	waiter := newWaiter(t, fake)

	html, err := waiter.Await(context.Background(), "form.track-edit-form", time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if html == "" {
		t.Fatal("expected element markup")
	}
}

func TestAwaitResolvesOnMutation(t *testing.T) {
	fake := testsupport.NewFakePage("https://tracks.example.com/tracks/1/edit", emptyMarkup)
	waiter := newWaiter(t, fake)

	done := make(chan error, 1)
	go func() {
		_, err := waiter.Await(context.Background(), "form.track-edit-form", 2*time.Second)
		done <- err
	}()

	// The host page renders its form after the wait begins.
	time.Sleep(20 * time.Millisecond)
	fake.SetSnapshot(formMarkup)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Await did not resolve after mutation")
	}
}

func TestAwaitTimesOutWithElementNotFound(t *testing.T) {
	fake := testsupport.NewFakePage("https://tracks.example.com/tracks/1/edit", emptyMarkup)
	waiter := newWaiter(t, fake)

	_, err := waiter.Await(context.Background(), "form.track-edit-form", 50*time.Millisecond)
	if !errors.Is(err, faults.ErrElementNotFound) {
		t.Fatalf("expected element-not-found, got %v", err)
	}
}

func TestAwaitGoneDetectsRemoval(t *testing.T) {
	fake := testsupport.NewFakePage("https://tracks.example.com/tracks/1/edit", formMarkup)
	waiter := newWaiter(t, fake)

	done := make(chan error, 1)
	go func() {
		done <- waiter.AwaitGone(context.Background(), "form.track-edit-form", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	fake.SetSnapshot(emptyMarkup)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitGone failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitGone did not resolve after removal")
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	fake := testsupport.NewFakePage("https://tracks.example.com/tracks/1/edit", emptyMarkup)
	waiter := newWaiter(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := waiter.Await(ctx, "form.track-edit-form", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
