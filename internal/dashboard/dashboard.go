// Package dashboard renders protection state into the injected panel. It is
// presentation only; no renderer feeds decisions back into the engine.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"

	"trackguard/internal/hostpage"
	"trackguard/internal/inject"
	"trackguard/internal/logging"
	"trackguard/internal/protection"
)

const statusSelector = "#trackguard-panel .trackguard-status"

var statusTemplate = template.Must(template.New("status").Parse(strings.TrimSpace(`
<div class="trackguard-status" data-phase="{{.Phase}}">
  <span class="trackguard-badge trackguard-badge-{{.Class}}">{{.Label}}</span>
  {{- if .Detail}}
  <span class="trackguard-detail">{{.Detail}}</span>
  {{- end}}
</div>
`)))

type statusView struct {
	Phase  protection.Phase
	Class  string
	Label  string
	Detail string
}

// Scheduler serializes panel writes with queued injection tasks so a repaint
// never interleaves with another DOM mutation.
type Scheduler interface {
	Enqueue(task inject.Task) <-chan error
}

// PanelRenderer writes the current state into the injected panel container.
// All DOM writes go through the scheduler's single worker.
type PanelRenderer struct {
	page   hostpage.Page
	anchor string
	sched  Scheduler
	logger *slog.Logger

	mu       sync.Mutex
	rendered bool
}

// NewPanelRenderer renders into the container addressed by anchorSelector.
func NewPanelRenderer(page hostpage.Page, anchorSelector string, sched Scheduler, logger *slog.Logger) *PanelRenderer {
	return &PanelRenderer{
		page:   page,
		anchor: anchorSelector,
		sched:  sched,
		logger: logging.NewComponentLogger(logger, "dashboard"),
	}
}

// Render replaces the panel contents with markup for st. The write is queued
// behind any in-flight injection task; failures are logged and dropped, the
// next state change repaints anyway.
func (r *PanelRenderer) Render(ctx context.Context, st protection.RenderState) {
	view := viewOf(st)

	var buf strings.Builder
	if err := statusTemplate.Execute(&buf, view); err != nil {
		r.logger.Error("render status markup", logging.Error(err))
		return
	}
	markup := buf.String()

	// Enqueue rather than wait: Render is called from inside scan tasks that
	// the same worker is executing, so waiting here would deadlock the queue.
	done := r.sched.Enqueue(inject.Task{
		Name: "paint-status",
		Run: func(ctx context.Context) error {
			return r.paint(ctx, markup)
		},
	})
	go func() {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("paint status panel", logging.Error(err),
				logging.String("phase", string(st.Phase)))
		}
	}()
}

func (r *PanelRenderer) paint(ctx context.Context, markup string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rendered {
		if err := r.page.Remove(ctx, statusSelector); err != nil {
			r.logger.Debug("remove stale status", logging.Error(err))
		}
	}
	op := hostpage.MarkupOp{
		AnchorSelector: r.anchor,
		Position:       hostpage.BeforeEnd,
		HTML:           markup,
	}
	if err := r.page.Apply(ctx, op); err != nil {
		r.rendered = false
		return err
	}
	r.rendered = true
	return nil
}

// Reset forgets the previously painted status, used after navigation when the
// panel was re-injected fresh.
func (r *PanelRenderer) Reset() {
	r.mu.Lock()
	r.rendered = false
	r.mu.Unlock()
}

func viewOf(st protection.RenderState) statusView {
	view := statusView{Phase: st.Phase}
	switch st.Phase {
	case protection.PhaseNoAudioURL:
		view.Class = "idle"
		view.Label = "No audio file"
		view.Detail = "Upload or link an audio file to enable protection."
	case protection.PhaseIncompleteMetadata:
		view.Class = "idle"
		view.Label = "Metadata incomplete"
		view.Detail = "Required: " + strings.Join(st.Missing, ", ")
	case protection.PhaseReadyToScan:
		view.Class = "ready"
		view.Label = "Ready to protect"
	case protection.PhaseScanning:
		view.Class = "busy"
		view.Label = "Scanning audio"
	case protection.PhaseProtected:
		view.Class = "ok"
		view.Label = "Protected"
		switch {
		case st.IsDuplicate && st.IsAuthentic:
			view.Detail = fmt.Sprintf("Verified original among %d matching uploads.", st.DuplicateCount)
		case st.Degraded:
			view.Detail = "Stored without duplicate verification."
		}
	case protection.PhaseViolationFailed:
		view.Class = "error"
		view.Label = "Duplicate content"
		view.Detail = st.Message
	default:
		view.Class = "idle"
		view.Label = string(st.Phase)
	}
	return view
}

// LogRenderer reports state changes to the structured log, used when no page
// is attached (headless verification runs).
type LogRenderer struct {
	logger *slog.Logger

	mu   sync.Mutex
	last protection.Phase
}

// NewLogRenderer builds a renderer that only logs.
func NewLogRenderer(logger *slog.Logger) *LogRenderer {
	return &LogRenderer{logger: logging.NewComponentLogger(logger, "dashboard")}
}

// Render logs phase transitions, skipping repeats of the same phase.
func (r *LogRenderer) Render(_ context.Context, st protection.RenderState) {
	r.mu.Lock()
	repeat := st.Phase == r.last
	r.last = st.Phase
	r.mu.Unlock()
	if repeat {
		return
	}

	attrs := []logging.Attr{
		logging.String("phase", string(st.Phase)),
		logging.String(logging.FieldTrackID, st.TrackID),
	}
	if st.Message != "" {
		attrs = append(attrs, logging.String("detail", st.Message))
	}
	switch st.Phase {
	case protection.PhaseViolationFailed:
		r.logger.Warn("protection state", logging.Args(attrs...)...)
	default:
		r.logger.Info("protection state", logging.Args(attrs...)...)
	}
}
