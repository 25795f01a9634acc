// Package engine wires the navigation watcher, injection orchestrator,
// remote client, and protection state machine into the long-running loop
// that reacts to the host page.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"trackguard/internal/config"
	"trackguard/internal/dashboard"
	"trackguard/internal/faults"
	"trackguard/internal/fingerprint"
	"trackguard/internal/hostpage"
	"trackguard/internal/inject"
	"trackguard/internal/logging"
	"trackguard/internal/metadata"
	"trackguard/internal/notifications"
	"trackguard/internal/page"
	"trackguard/internal/policy"
	"trackguard/internal/protection"
	"trackguard/internal/remote"
	"trackguard/internal/staging"
	"trackguard/internal/track"
)

// fieldSettle is how long the engine waits after a mutation burst before
// re-reading form fields.
const fieldSettle = 250 * time.Millisecond

// Engine drives the protection workflow for one attached host page.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	page     hostpage.Page
	routes   *hostpage.Routes
	hub      *page.MutationHub
	waiter   *page.Waiter
	watcher  *page.Watcher
	orch     *inject.Orchestrator
	remote   *remote.Client
	machine  *protection.Machine
	renderer *dashboard.PanelRenderer
	drafts   *staging.Store
	notifier notifications.Service

	mu            sync.Mutex
	cancelHandler context.CancelFunc
	// draftPage is the upload page whose draft is still pending, used to
	// recover the draft when the submission lands on an edit page.
	draftPage string
}

// New assembles an engine over an attached page. drafts may be nil when no
// staging store is available; notifier may be nil.
func New(cfg *config.Config, pg hostpage.Page, client *remote.Client, generator fingerprint.Generator, drafts *staging.Store, notifier notifications.Service, logger *slog.Logger) (*Engine, error) {
	routes, err := hostpage.NewRoutes(cfg.Host.EditRoutePattern, cfg.Host.UploadRoutePattern)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	hub := page.NewMutationHub(pg)
	waiter := page.NewWaiter(pg, hub, logger)
	watcher := page.NewWatcher(pg,
		time.Duration(cfg.Host.NavDebounceMillis)*time.Millisecond,
		time.Duration(cfg.Host.FallbackPollSeconds)*time.Second,
		logger)
	orch := inject.New(pg, waiter, logger)
	renderer := dashboard.NewPanelRenderer(pg, cfg.Host.ContainerSelector, orch, logger)
	enforce := policy.New(client, logger)

	epoch := func() string {
		if s := watcher.Current(); s != nil {
			return s.Epoch
		}
		return ""
	}
	machine := protection.New(client, enforce, generator, renderer, epoch, logger)

	return &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "engine"),
		page:     pg,
		routes:   routes,
		hub:      hub,
		waiter:   waiter,
		watcher:  watcher,
		orch:     orch,
		remote:   client,
		machine:  machine,
		renderer: renderer,
		drafts:   drafts,
		notifier: notifier,
	}, nil
}

// Machine exposes the protection state machine, used by status reporting.
func (e *Engine) Machine() *protection.Machine {
	return e.machine
}

// Run blocks until ctx is cancelled, reacting to navigations on the page.
func (e *Engine) Run(ctx context.Context) error {
	e.watcher.OnReset(func(old *page.Session) {
		// Everything keyed to the old page is torn down; the remote TTL
		// cache deliberately survives navigation.
		e.orch.ClearMarkers()
		e.remote.ResetInflight()
		e.renderer.Reset()
		e.cancelActiveHandler()
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.hub.Run(ctx) })
	g.Go(func() error { return e.orch.Run(ctx) })
	g.Go(func() error { return e.watcher.Run(ctx) })
	g.Go(func() error { return e.dispatch(ctx) })
	return g.Wait()
}

func (e *Engine) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.cancelActiveHandler()
			return ctx.Err()
		case nav := <-e.watcher.Events():
			session := nav.Session
			if !e.routes.Observed(session.URL) {
				e.logger.Debug("ignoring page outside observed routes",
					logging.String("url", session.URL))
				continue
			}
			handlerCtx, cancel := context.WithCancel(ctx)
			e.mu.Lock()
			e.cancelHandler = cancel
			e.mu.Unlock()
			go e.handlePage(handlerCtx, session)
		}
	}
}

func (e *Engine) cancelActiveHandler() {
	e.mu.Lock()
	if e.cancelHandler != nil {
		e.cancelHandler()
		e.cancelHandler = nil
	}
	e.mu.Unlock()
}

// handlePage runs the per-page workflow: locate the form, inject the panel,
// then track field edits until the session ends.
func (e *Engine) handlePage(ctx context.Context, session *page.Session) {
	log := e.logger.With(logging.String(logging.FieldEpoch, session.Epoch),
		logging.String("url", session.URL))

	if err := e.awaitForm(ctx, session); err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(log, "edit form never appeared, skipping page", "form_not_found",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no protection panel on this page"))
		}
		return
	}

	// Give client-side rendering a moment to finish populating fields.
	if !sleepCtx(ctx, time.Duration(e.cfg.Host.SettleDelayMillis)*time.Millisecond) {
		return
	}

	op := hostpage.MarkupOp{
		AnchorSelector: e.cfg.Host.FormSelector,
		Position:       hostpage.AfterEnd,
		HTML:           panelMarkup(e.cfg.Host.ContainerSelector),
	}
	if err := e.orch.InjectOnce(ctx, session, e.cfg.Host.ContainerSelector, op); err != nil {
		if ctx.Err() == nil {
			log.Error("inject panel", logging.Error(err))
		}
		return
	}
	session.MarkFieldsReady(true)

	e.evaluate(ctx, session)
	e.watchFields(ctx, session)
}

func (e *Engine) awaitForm(ctx context.Context, session *page.Session) error {
	timeout := time.Duration(e.cfg.Host.ElementWaitSeconds) * time.Second
	retries := e.cfg.Host.ElementWaitRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		_, err = e.waiter.Await(ctx, e.cfg.Host.FormSelector, timeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Debug("form not found, retrying",
			logging.Int("attempt", attempt),
			logging.String(logging.FieldEpoch, session.Epoch))
	}
	return err
}

// watchFields re-evaluates protection state when the page mutates, with a
// fallback poll so edits that produce no observable mutation are still
// caught.
func (e *Engine) watchFields(ctx context.Context, session *page.Session) {
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	signals, unsubscribe := e.hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if !sleepCtx(ctx, fieldSettle) {
				return
			}
		case <-poll.C:
		}
		if !e.sessionCurrent(session) {
			return
		}
		e.evaluate(ctx, session)
	}
}

func (e *Engine) sessionCurrent(session *page.Session) bool {
	current := e.watcher.Current()
	return current != nil && current.Epoch == session.Epoch
}

// evaluate gathers one input snapshot and feeds it to the state machine,
// scheduling a scan when the page is ready and auto-scan is enabled.
func (e *Engine) evaluate(ctx context.Context, session *page.Session) {
	inputs, trackName := e.collect(ctx, session)
	if !e.sessionCurrent(session) {
		return
	}

	st := e.machine.Reevaluate(ctx, inputs)
	if st.Phase != protection.PhaseReadyToScan || !e.cfg.Engine.AutoScan {
		return
	}
	if inputs.TrackID == "" {
		// Upload pages have no track identity yet; the draft is staged and
		// the scan happens once the host app assigns an ID.
		return
	}

	err := e.orch.Do(ctx, inject.Task{
		Name: "fingerprint-scan",
		Run: func(ctx context.Context) error {
			final, scanErr := e.machine.StartScan(ctx, inputs)
			e.report(ctx, final, scanErr, trackName)
			return nil
		},
	})
	if err != nil && ctx.Err() == nil {
		e.logger.Error("schedule scan", logging.Error(err))
	}
}

// formSnapshot is one read of every observed form field.
type formSnapshot struct {
	TrackName         string
	Form              metadata.FormValues
	PlaybackURL       string
	Producers         string
	Tags              string
	Licensing         string
	ExclusivePrice    string
	ExclusiveCurrency string
	DurationMS        string
}

func (s formSnapshot) empty() bool {
	return s.TrackName == "" && s.Form.Key == "" && s.Form.Scale == "" &&
		s.Form.BPM == "" && s.PlaybackURL == "" && s.Producers == "" &&
		s.Tags == "" && s.Licensing == "" && s.ExclusivePrice == ""
}

func (e *Engine) readForm(ctx context.Context) formSnapshot {
	host := e.cfg.Host
	return formSnapshot{
		TrackName: e.readField(ctx, host.TrackNameSelector),
		Form: metadata.FormValues{
			Key:   e.readField(ctx, host.KeySelector),
			Scale: e.readField(ctx, host.ScaleSelector),
			BPM:   e.readField(ctx, host.BPMSelector),
		},
		PlaybackURL:       e.readField(ctx, host.AudioURLSelector),
		Producers:         e.readField(ctx, host.ProducersSelector),
		Tags:              e.readField(ctx, host.TagsSelector),
		Licensing:         e.readField(ctx, host.LicensingSelector),
		ExclusivePrice:    e.readField(ctx, host.ExclPriceSelector),
		ExclusiveCurrency: e.readField(ctx, host.ExclCurrencySelector),
		DurationMS:        e.readField(ctx, host.DurationSelector),
	}
}

// collect reads the form, merges staged drafts, and fetches the remote
// record. Remote failures degrade to form-only evaluation.
func (e *Engine) collect(ctx context.Context, session *page.Session) (protection.Inputs, string) {
	snap := e.readForm(ctx)
	trackID, _ := e.routes.TrackID(session.URL)

	if e.drafts != nil {
		if trackID == "" {
			e.stageDraft(ctx, session, snap)
		} else {
			snap = e.restoreDraft(ctx, trackID, snap)
		}
	}

	var rec *track.Record
	if trackID != "" {
		fetched, err := e.remote.FetchTrackByID(ctx, trackID)
		switch {
		case err == nil:
			rec = fetched
		case ctx.Err() != nil:
		case faults.Degraded(err):
			logging.WarnWithContext(e.logger, "remote record unavailable, evaluating form only", "remote_degraded",
				logging.String(logging.FieldTrackID, trackID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remote fallback values missing from completeness check"))
		default:
			e.logger.Error("fetch track record",
				logging.String(logging.FieldTrackID, trackID),
				logging.Error(err))
		}
	}

	trackName := snap.TrackName
	if rec != nil && trackName == "" {
		trackName = rec.TrackName
	}

	return protection.Inputs{
		Epoch:       session.Epoch,
		TrackID:     trackID,
		PlaybackURL: snap.PlaybackURL,
		Form:        snap.Form,
		Remote:      rec,
	}, trackName
}

// stageDraft persists the upload-page form state. When the host app already
// knows the track by name, the draft is bound to its ID so the edit page can
// recover it after a restart.
func (e *Engine) stageDraft(ctx context.Context, session *page.Session, snap formSnapshot) {
	if snap.empty() {
		return
	}

	rec := track.Record{
		TrackName:         snap.TrackName,
		Producers:         staging.SplitList(snap.Producers),
		Tags:              staging.SplitList(snap.Tags),
		LicensingType:     track.LicensingType(snap.Licensing),
		ExclusivePrice:    snap.ExclusivePrice,
		ExclusiveCurrency: snap.ExclusiveCurrency,
	}
	rec.Normalize()

	sub := &staging.PendingSubmission{
		PageURL:            session.URL,
		TrackID:            e.resolveTrackID(ctx, snap.TrackName),
		TrackName:          snap.TrackName,
		KeyName:            snap.Form.Key,
		Scale:              snap.Form.Scale,
		PlaybackURL:        snap.PlaybackURL,
		Producers:          rec.Producers,
		Tags:               rec.Tags,
		LicensingType:      string(rec.LicensingType),
		ExclusivePrice:     rec.ExclusivePrice,
		ExclusiveCurrency:  rec.ExclusiveCurrency,
		ExclusiveStatus:    string(rec.ExclusiveStatus),
		ExclusiveBuyerInfo: rec.ExclusiveBuyerInfo,
		PageEpoch:          session.Epoch,
	}
	if parsed, ok := metadata.ParseBPM(snap.Form.BPM); ok {
		sub.BPM = parsed
	}
	if ms, err := strconv.ParseInt(snap.DurationMS, 10, 64); err == nil && ms > 0 {
		sub.DurationMS = ms
	}

	if err := e.drafts.Upsert(ctx, sub); err != nil {
		if ctx.Err() == nil {
			e.logger.Error("stage draft", logging.Error(err))
		}
		return
	}
	e.mu.Lock()
	e.draftPage = session.URL
	e.mu.Unlock()
}

// resolveTrackID asks the remote service whether the named track already has
// an identity. Lookup failures leave the draft unbound; the edit page can
// still recover it through page continuity.
func (e *Engine) resolveTrackID(ctx context.Context, trackName string) string {
	if trackName == "" {
		return ""
	}
	rec, err := e.remote.FetchTrackByName(ctx, trackName)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Debug("track name lookup failed",
				logging.String("track_name", trackName),
				logging.Error(err))
		}
		return ""
	}
	return rec.TrackID
}

// restoreDraft fills empty form fields from a staged draft and writes the
// recovered values back into the page. Drafts bound to the track ID win;
// unbound drafts are recovered from the upload page the session came from.
func (e *Engine) restoreDraft(ctx context.Context, trackID string, snap formSnapshot) formSnapshot {
	sub, err := e.drafts.ConsumeForTrack(ctx, trackID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("consume draft", logging.Error(err))
		}
		return snap
	}
	if sub == nil {
		sub = e.consumeContinuityDraft(ctx, snap.TrackName)
	}
	if sub == nil {
		return snap
	}

	host := e.cfg.Host
	restore := func(current *string, selector, value string) {
		if *current != "" || value == "" {
			return
		}
		*current = value
		e.writeField(ctx, selector, value)
	}
	restore(&snap.Form.Key, host.KeySelector, sub.KeyName)
	restore(&snap.Form.Scale, host.ScaleSelector, sub.Scale)
	restore(&snap.TrackName, host.TrackNameSelector, sub.TrackName)
	restore(&snap.Producers, host.ProducersSelector, staging.JoinList(sub.Producers))
	restore(&snap.Tags, host.TagsSelector, staging.JoinList(sub.Tags))
	restore(&snap.Licensing, host.LicensingSelector, sub.LicensingType)
	restore(&snap.ExclusivePrice, host.ExclPriceSelector, sub.ExclusivePrice)
	restore(&snap.ExclusiveCurrency, host.ExclCurrencySelector, sub.ExclusiveCurrency)
	if snap.Form.BPM == "" && sub.BPM > 0 {
		snap.Form.BPM = metadata.FormatBPM(sub.BPM)
		e.writeField(ctx, host.BPMSelector, snap.Form.BPM)
	}
	if snap.PlaybackURL == "" {
		snap.PlaybackURL = sub.PlaybackURL
	}

	e.mu.Lock()
	if e.draftPage == sub.PageURL {
		e.draftPage = ""
	}
	e.mu.Unlock()

	e.logger.Info("restored staged draft",
		logging.String(logging.FieldTrackID, trackID),
		logging.String("draft_page", sub.PageURL))
	return snap
}

// consumeContinuityDraft recovers the draft staged on the upload page this
// session navigated from. A draft naming a different track is left alone.
func (e *Engine) consumeContinuityDraft(ctx context.Context, trackName string) *staging.PendingSubmission {
	e.mu.Lock()
	pageURL := e.draftPage
	e.mu.Unlock()
	if pageURL == "" {
		return nil
	}

	pending, err := e.drafts.Get(ctx, pageURL)
	if err != nil || pending == nil {
		return nil
	}
	if pending.TrackName != "" && trackName != "" && pending.TrackName != trackName {
		return nil
	}

	sub, err := e.drafts.ConsumeForPage(ctx, pageURL)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("consume continuity draft", logging.Error(err))
		}
		return nil
	}
	return sub
}

func (e *Engine) report(ctx context.Context, st protection.RenderState, err error, trackName string) {
	switch {
	case err == nil && st.Phase == protection.PhaseProtected:
		if st.Degraded {
			if nerr := e.notifier.NotifyDegraded(ctx, st.TrackID); nerr != nil {
				e.logger.Debug("notify degraded", logging.Error(nerr))
			}
		}
		if nerr := e.notifier.NotifyProtected(ctx, trackName, st.TrackID); nerr != nil {
			e.logger.Debug("notify protected", logging.Error(nerr))
		}
	case errors.Is(err, faults.ErrToSViolation):
		if nerr := e.notifier.NotifyViolation(ctx, trackName, st.TrackID, st.DuplicateInfo); nerr != nil {
			e.logger.Debug("notify violation", logging.Error(nerr))
		}
	case errors.Is(err, faults.ErrStaleEpoch):
		// Already logged by the machine; nothing to report.
	case err != nil && ctx.Err() == nil:
		e.logger.Error("fingerprint scan failed",
			logging.String(logging.FieldTrackID, st.TrackID),
			logging.Error(err))
	}
}

func (e *Engine) readField(ctx context.Context, selector string) string {
	if selector == "" {
		return ""
	}
	value, err := e.page.ReadField(ctx, selector)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func (e *Engine) writeField(ctx context.Context, selector, value string) {
	if selector == "" {
		return
	}
	if err := e.page.WriteField(ctx, selector, value); err != nil && ctx.Err() == nil {
		e.logger.Debug("write field", logging.String("selector", selector), logging.Error(err))
	}
}

// panelMarkup builds the container element for a selector like
// "#trackguard-panel".
func panelMarkup(containerSelector string) string {
	id := strings.TrimPrefix(containerSelector, "#")
	return `<div id="` + id + `" class="trackguard-panel"></div>`
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
