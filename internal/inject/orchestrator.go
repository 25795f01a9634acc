// Package inject serializes every UI mutation: a FIFO queue drained by a
// single worker so writes from different tasks never interleave, with an
// idempotency guard that keeps reinjection from duplicating visible elements.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trackguard/internal/hostpage"
	"trackguard/internal/logging"
	"trackguard/internal/page"
)

// Task is one queued UI mutation. Run executes to completion, including its
// own awaited async steps, before the next task starts.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type queuedTask struct {
	task Task
	done chan error
}

// ErrClosed is returned for tasks enqueued after the orchestrator stopped.
var ErrClosed = errors.New("injection queue closed")

// Orchestrator guarantees idempotent, non-interleaved UI mutations.
type Orchestrator struct {
	pg     hostpage.Page
	waiter *page.Waiter
	logger *slog.Logger

	tasks chan queuedTask

	mu      sync.Mutex
	markers map[string]bool
	closed  bool
}

// New builds an Orchestrator; Run must be started before tasks complete.
func New(pg hostpage.Page, waiter *page.Waiter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		pg:      pg,
		waiter:  waiter,
		logger:  logging.NewComponentLogger(logger, "inject"),
		tasks:   make(chan queuedTask, 64),
		markers: make(map[string]bool),
	}
}

// Run drains the queue until ctx is done. Pending tasks are rejected with the
// context error on shutdown so no caller blocks forever.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		for {
			select {
			case qt := <-o.tasks:
				qt.done <- ctx.Err()
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case qt := <-o.tasks:
			err := qt.task.Run(ctx)
			if err != nil {
				// The task rejects its own promise; the queue moves on.
				o.logger.Debug("injection task failed",
					logging.String("task", qt.task.Name),
					logging.Error(err))
			}
			qt.done <- err
		}
	}
}

// Enqueue appends a task and returns a channel resolving with its result.
// Tasks are processed strictly in arrival order, at most one in flight.
func (o *Orchestrator) Enqueue(task Task) <-chan error {
	done := make(chan error, 1)
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		done <- ErrClosed
		return done
	}
	o.tasks <- queuedTask{task: task, done: done}
	return done
}

// Do enqueues a task and waits for it to finish.
func (o *Orchestrator) Do(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-o.Enqueue(task):
		return err
	}
}

// InjectOnce performs op unless the marker container is already present. When
// the host page later removes the container, the marker is cleared so a
// future task can reinject.
func (o *Orchestrator) InjectOnce(ctx context.Context, session *page.Session, markerSelector string, op hostpage.MarkupOp) error {
	return o.Do(ctx, Task{
		Name: fmt.Sprintf("inject %s", markerSelector),
		Run: func(ctx context.Context) error {
			if o.hasMarker(markerSelector) {
				return nil
			}
			snapshot, err := o.pg.Snapshot(ctx)
			if err != nil {
				return err
			}
			present, err := hostpage.Exists(snapshot, markerSelector)
			if err != nil {
				return err
			}
			if present {
				// Another path already injected; adopt the marker.
				o.setMarker(markerSelector, true)
				return nil
			}
			if err := o.pg.Apply(ctx, op); err != nil {
				return err
			}
			o.setMarker(markerSelector, true)
			if session != nil {
				session.MarkInjected(true)
			}
			go o.watchRemoval(ctx, session, markerSelector)
			return nil
		},
	})
}

// watchRemoval clears the idempotency marker once the host page drops the
// injected container.
func (o *Orchestrator) watchRemoval(ctx context.Context, session *page.Session, markerSelector string) {
	for {
		err := o.waiter.AwaitGone(ctx, markerSelector, time.Minute)
		if err == nil {
			o.setMarker(markerSelector, false)
			if session != nil {
				session.MarkInjected(false)
			}
			o.logger.Debug("injected container removed by host page",
				logging.String("selector", markerSelector))
			return
		}
		if ctx.Err() != nil {
			return
		}
		// Still present; keep watching.
	}
}

// ClearMarkers drops all idempotency markers, typically on navigation.
func (o *Orchestrator) ClearMarkers() {
	o.mu.Lock()
	o.markers = make(map[string]bool)
	o.mu.Unlock()
}

func (o *Orchestrator) hasMarker(selector string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.markers[selector]
}

func (o *Orchestrator) setMarker(selector string, v bool) {
	o.mu.Lock()
	o.markers[selector] = v
	o.mu.Unlock()
}
