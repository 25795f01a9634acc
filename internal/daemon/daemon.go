package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"trackguard/internal/config"
	"trackguard/internal/engine"
	"trackguard/internal/logging"
	"trackguard/internal/protection"
	"trackguard/internal/staging"
)

// pruneInterval is how often abandoned drafts are swept.
const pruneInterval = time.Hour

// Daemon coordinates the protection engine and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	drafts *staging.Store

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Phase         protection.Phase
	TrackID       string
	StagingDBPath string
	LockFilePath  string
	PendingDrafts int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, eng *engine.Engine, drafts *staging.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || eng == nil || logger == nil {
		return nil, errors.New("daemon requires config, engine, and logger")
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		engine:   eng,
		drafts:   drafts,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the engine in the background.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another trackguard daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(runCtx)

	d.running.Store(true)
	d.logger.Info("trackguard daemon started",
		logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.engine.Run(ctx) })
	if d.drafts != nil {
		g.Go(func() error { return d.pruneLoop(ctx) })
	}

	err := g.Wait()
	d.mu.Lock()
	if err != nil && !errors.Is(err, context.Canceled) {
		d.runErr = err
	}
	close(d.done)
	d.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("engine stopped", logging.Error(err))
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) error {
	maxAge := time.Duration(d.cfg.Engine.StagingPruneHours) * time.Hour
	if maxAge <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := d.drafts.PruneAbandoned(ctx, maxAge)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error("prune abandoned drafts", logging.Error(err))
				}
				continue
			}
			if removed > 0 {
				d.logger.Info("pruned abandoned drafts",
					logging.Int64("removed", removed))
			}
			st := d.Status(ctx)
			d.logger.Info("daemon heartbeat",
				logging.String("phase", string(st.Phase)),
				logging.String(logging.FieldTrackID, st.TrackID),
				logging.Int("pending_drafts", st.PendingDrafts))
		}
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("trackguard daemon stopped")
}

// Run starts the daemon and blocks until ctx is cancelled or the engine
// fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-done:
	}
	d.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Status reports current runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:       d.running.Load(),
		StagingDBPath: d.cfg.StagingDBPath(),
		LockFilePath:  d.lockPath,
	}
	if machine := d.engine.Machine(); machine != nil {
		state := machine.State()
		st.Phase = state.Phase
		st.TrackID = state.TrackID
	}
	if d.drafts != nil {
		if count, err := d.drafts.Count(ctx); err == nil {
			st.PendingDrafts = count
		}
	}
	return st
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.drafts != nil {
		return d.drafts.Close()
	}
	return nil
}
