// Package protection hosts the fingerprint-protection state machine: the
// top-level controller that turns page inputs into a render state and owns
// the single irreversible decision, persisting or revoking a fingerprint.
package protection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"trackguard/internal/faults"
	"trackguard/internal/fingerprint"
	"trackguard/internal/logging"
	"trackguard/internal/metadata"
	"trackguard/internal/policy"
	"trackguard/internal/remote"
	"trackguard/internal/track"
)

// Phase is the machine's discriminant.
type Phase string

const (
	PhaseNoAudioURL         Phase = "no_audio_url"
	PhaseIncompleteMetadata Phase = "incomplete_metadata"
	PhaseReadyToScan        Phase = "ready_to_scan"
	PhaseScanning           Phase = "scanning"
	PhaseProtected          Phase = "protected"
	PhaseViolationFailed    Phase = "violation_failed"
)

// RenderState is the discriminated value handed to the dashboard renderer.
// Pure data; the renderer owns all presentation.
type RenderState struct {
	Phase          Phase
	TrackID        string
	PlaybackURL    string
	Missing        []string
	IsDuplicate    bool
	IsAuthentic    bool
	DuplicateInfo  string
	DuplicateCount int
	Degraded       bool
	Message        string
}

// Renderer consumes render states. Presentation only; implementations must
// not feed decisions back into the machine.
type Renderer interface {
	Render(ctx context.Context, st RenderState)
}

// Inputs is one snapshot of everything the machine evaluates: current page
// epoch, track identity, playback URL, form values, and the remote record.
type Inputs struct {
	Epoch       string
	TrackID     string
	PlaybackURL string
	Form        metadata.FormValues
	Remote      *track.Record
}

// Persister is the remote write surface the machine needs.
type Persister interface {
	SaveMetadata(ctx context.Context, rec *track.Record) error
	StoreFingerprint(ctx context.Context, trackID, fp string) (*remote.CheckResult, error)
}

// Decider is the duplicate-enforcement surface.
type Decider interface {
	Decide(ctx context.Context, fp, trackID string, hadStored bool) (policy.Decision, error)
}

// Machine drives the protection lifecycle for one page session. Transitions
// run one at a time; triggers arriving while async work is pending observe
// the Scanning state instead of queuing a second transition.
type Machine struct {
	logger    *slog.Logger
	persister Persister
	decider   Decider
	generator fingerprint.Generator
	renderer  Renderer
	// epoch supplies the current page epoch; completions stamped with an
	// older epoch are discarded.
	epoch func() string

	mu             sync.Mutex
	state          RenderState
	scanning       bool
	stored         bool
	lastScannedURL string
	violatedURL    string
}

// New builds a Machine. renderer may be nil when no dashboard is configured.
func New(persister Persister, decider Decider, generator fingerprint.Generator, renderer Renderer, epoch func() string, logger *slog.Logger) *Machine {
	if epoch == nil {
		epoch = func() string { return "" }
	}
	return &Machine{
		logger:    logging.NewComponentLogger(logger, "protection"),
		persister: persister,
		decider:   decider,
		generator: generator,
		renderer:  renderer,
		epoch:     epoch,
		state:     RenderState{Phase: PhaseNoAudioURL},
	}
}

// State returns the current render state.
func (m *Machine) State() RenderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reevaluate recomputes the phase from fresh inputs. Called on field edits,
// URL changes, and after remote reads; while a scan is in flight the call is
// coalesced into the pending transition.
func (m *Machine) Reevaluate(ctx context.Context, in Inputs) RenderState {
	m.mu.Lock()
	if m.scanning {
		st := m.state
		m.mu.Unlock()
		return st
	}
	st := m.evaluateLocked(in)
	m.state = st
	m.mu.Unlock()

	m.render(ctx, st)
	return st
}

func (m *Machine) evaluateLocked(in Inputs) RenderState {
	st := RenderState{TrackID: in.TrackID, PlaybackURL: in.PlaybackURL}

	url := strings.TrimSpace(in.PlaybackURL)
	if url == "" {
		st.Phase = PhaseNoAudioURL
		return st
	}

	if m.state.Phase == PhaseViolationFailed && url == m.violatedURL {
		// Recoverable only by a genuinely different audio source.
		st = m.state
		st.TrackID = in.TrackID
		return st
	}

	eval := metadata.Evaluate(in.Form, metadata.FallbackFrom(in.Remote))
	if !eval.IsComplete {
		st.Phase = PhaseIncompleteMetadata
		st.Missing = eval.Missing
		st.Message = "missing " + strings.Join(eval.Missing, ", ")
		return st
	}

	fpStatus := track.StatusOf(in.Remote)
	hasFingerprint := fpStatus.HasFingerprint || m.stored
	fingerprintedURL := m.lastScannedURL
	if fingerprintedURL == "" && in.Remote != nil {
		fingerprintedURL = in.Remote.PlaybackURL
	}
	if hasFingerprint && fingerprintedURL == url {
		// Already protected and the audio source is unchanged.
		st.Phase = PhaseProtected
		st.IsDuplicate = m.state.IsDuplicate
		st.IsAuthentic = m.state.IsAuthentic
		st.DuplicateInfo = m.state.DuplicateInfo
		st.DuplicateCount = m.state.DuplicateCount
		return st
	}

	st.Phase = PhaseReadyToScan
	return st
}

// StartScan runs the ReadyToScan → Scanning → Protected|ViolationFailed
// transition: persist metadata and URL, generate the fingerprint, run the
// duplicate policy, and store only when the decision allows it. A re-entrant
// call while a scan is pending observes the Scanning state.
func (m *Machine) StartScan(ctx context.Context, in Inputs) (RenderState, error) {
	m.mu.Lock()
	if m.scanning {
		st := m.state
		m.mu.Unlock()
		return st, nil
	}
	current := m.evaluateLocked(in)
	if current.Phase != PhaseReadyToScan {
		m.state = current
		m.mu.Unlock()
		m.render(ctx, current)
		if current.Phase == PhaseIncompleteMetadata {
			return current, faults.Wrap(faults.ErrValidation, "protection", "start_scan", current.Message, nil)
		}
		return current, nil
	}
	m.scanning = true
	m.state = RenderState{Phase: PhaseScanning, TrackID: in.TrackID, PlaybackURL: in.PlaybackURL}
	scanState := m.state
	hadStored := m.stored || track.StatusOf(in.Remote).HasFingerprint
	m.mu.Unlock()

	m.render(ctx, scanState)

	st, err := m.scan(ctx, in, hadStored)

	m.mu.Lock()
	m.scanning = false
	// scan shapes the state for every outcome: Protected on success,
	// ViolationFailed on a duplicate verdict, ReadyToScan on transient
	// failure so a later attempt can retry.
	m.state = st
	final := m.state
	m.mu.Unlock()

	if errors.Is(err, faults.ErrStaleEpoch) {
		// The page this scan belonged to is gone; nothing to render.
		return final, err
	}
	m.render(ctx, final)
	return final, err
}

func (m *Machine) scan(ctx context.Context, in Inputs, hadStored bool) (RenderState, error) {
	ready := RenderState{Phase: PhaseReadyToScan, TrackID: in.TrackID, PlaybackURL: in.PlaybackURL}

	if stale := m.checkEpoch(in.Epoch); stale != nil {
		return ready, stale
	}

	// Metadata and URL are saved before fingerprinting begins so the stored
	// fingerprint always refers to persisted metadata.
	rec := m.buildRecord(in)
	if err := rec.Validate(); err != nil {
		return ready, faults.Wrap(faults.ErrValidation, "protection", "scan", "track record rejected", err)
	}
	if err := m.persister.SaveMetadata(ctx, rec); err != nil {
		return ready, err
	}

	result, err := m.generator.Generate(ctx, in.PlaybackURL)
	if err != nil {
		return ready, err
	}

	if stale := m.checkEpoch(in.Epoch); stale != nil {
		return ready, stale
	}

	decision, err := m.decider.Decide(ctx, result.Fingerprint, in.TrackID, hadStored)
	if err != nil {
		return ready, err
	}

	if stale := m.checkEpoch(in.Epoch); stale != nil {
		return ready, stale
	}

	if decision.Violation {
		m.mu.Lock()
		m.stored = false
		m.violatedURL = in.PlaybackURL
		m.mu.Unlock()
		st := RenderState{
			Phase:          PhaseViolationFailed,
			TrackID:        in.TrackID,
			PlaybackURL:    in.PlaybackURL,
			IsDuplicate:    true,
			DuplicateInfo:  decision.DuplicateInfo,
			DuplicateCount: decision.DuplicateCount,
			Message:        violationMessage(decision),
		}
		return st, decision.Err()
	}

	echo, err := m.persister.StoreFingerprint(ctx, in.TrackID, result.Fingerprint)
	if err != nil {
		return ready, err
	}

	m.mu.Lock()
	m.stored = true
	m.lastScannedURL = in.PlaybackURL
	m.violatedURL = ""
	m.mu.Unlock()

	st := RenderState{
		Phase:          PhaseProtected,
		TrackID:        in.TrackID,
		PlaybackURL:    in.PlaybackURL,
		IsDuplicate:    decision.IsDuplicate,
		IsAuthentic:    decision.IsAuthentic,
		DuplicateInfo:  decision.DuplicateInfo,
		DuplicateCount: decision.DuplicateCount,
		Degraded:       decision.Degraded,
	}
	if echo != nil {
		st.IsDuplicate = st.IsDuplicate || echo.IsDuplicate
		st.IsAuthentic = st.IsAuthentic || echo.IsAuthentic
		if echo.DuplicateInfo != "" {
			st.DuplicateInfo = echo.DuplicateInfo
		}
		if echo.DuplicateCount > 0 {
			st.DuplicateCount = echo.DuplicateCount
		}
	}
	return st, nil
}

func (m *Machine) checkEpoch(epoch string) error {
	if current := m.epoch(); current != "" && epoch != "" && current != epoch {
		m.logger.Debug("discarding completion from stale page",
			logging.String(logging.FieldEpoch, epoch),
			logging.String("current_epoch", current))
		return faults.Wrap(faults.ErrStaleEpoch, "protection", "scan", "page changed during async work", nil)
	}
	return nil
}

func (m *Machine) buildRecord(in Inputs) *track.Record {
	eval := metadata.Evaluate(in.Form, metadata.FallbackFrom(in.Remote))
	rec := track.Record{}
	if in.Remote != nil {
		rec = *in.Remote
	}
	rec.TrackID = in.TrackID
	rec.KeyName = eval.Key
	rec.Scale = eval.Scale
	rec.BPM = eval.BPM
	rec.PlaybackURL = in.PlaybackURL
	rec.Normalize()
	return &rec
}

func (m *Machine) render(ctx context.Context, st RenderState) {
	if m.renderer == nil {
		return
	}
	m.renderer.Render(ctx, st)
}

func violationMessage(d policy.Decision) string {
	if d.DuplicateInfo != "" {
		return fmt.Sprintf("duplicate content: original is %s", d.DuplicateInfo)
	}
	return "duplicate content detected"
}
