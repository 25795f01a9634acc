package daemon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trackguard/internal/config"
	"trackguard/internal/daemon"
	"trackguard/internal/engine"
	"trackguard/internal/fingerprint"
	"trackguard/internal/logging"
	"trackguard/internal/remote"
	"trackguard/internal/staging"
	"trackguard/internal/testsupport"
)

type noopGenerator struct{}

func (noopGenerator) Generate(_ context.Context, playbackURL string) (*fingerprint.Result, error) {
	return &fingerprint.Result{Fingerprint: "fp:" + playbackURL}, nil
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *staging.Store) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success"}`))
	}))
	t.Cleanup(server.Close)

	cache, err := remote.NewMemoryStore(16, 300*time.Second)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	client, err := remote.New(server.URL, "test-key", cache, logging.NewNop())
	if err != nil {
		t.Fatalf("remote client: %v", err)
	}
	drafts, err := staging.Open(cfg)
	if err != nil {
		t.Fatalf("staging: %v", err)
	}

	page := testsupport.NewFakePage("https://tracks.example.com/", "<html><body></body></html>")
	eng, err := engine.New(cfg, page, client, noopGenerator{}, drafts, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	d, err := daemon.New(cfg, eng, drafts, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	return d, drafts
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := d.Status(context.Background())
	if !st.Running {
		t.Fatal("status should report running")
	}
	if st.LockFilePath != cfg.LockPath() {
		t.Fatalf("lock path = %q", st.LockFilePath)
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Fatal("status should report stopped")
	}

	// Stopping twice is harmless.
	d.Stop()
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDaemonStartTwiceFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Close()

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start should fail")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer first.Close()

	second, _ := newDaemon(t, cfg)
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("second instance should fail to acquire the lock")
	}
}

func TestDaemonStatusCountsDrafts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, drafts := newDaemon(t, cfg)
	defer d.Close()

	ctx := context.Background()
	if err := drafts.Upsert(ctx, &staging.PendingSubmission{
		PageURL:   "https://tracks.example.com/tracks/upload",
		TrackName: "Midnight Run",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if got := d.Status(ctx).PendingDrafts; got != 1 {
		t.Fatalf("pending drafts = %d, want 1", got)
	}
}
