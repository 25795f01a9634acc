package protection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trackguard/internal/faults"
	"trackguard/internal/fingerprint"
	"trackguard/internal/logging"
	"trackguard/internal/metadata"
	"trackguard/internal/policy"
	"trackguard/internal/remote"
	"trackguard/internal/track"
)

type fakePersister struct {
	mu       sync.Mutex
	calls    []string
	saved    []*track.Record
	stored   []string
	saveErr  error
	storeErr error
	echo     *remote.CheckResult
}

func (f *fakePersister) SaveMetadata(_ context.Context, rec *track.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "save")
	f.saved = append(f.saved, rec)
	return f.saveErr
}

func (f *fakePersister) StoreFingerprint(_ context.Context, _, fp string) (*remote.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "store")
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.stored = append(f.stored, fp)
	return f.echo, nil
}

type fakeDecider struct {
	mu       sync.Mutex
	decision policy.Decision
	err      error
	calls    int
	block    chan struct{}
}

func (f *fakeDecider) Decide(ctx context.Context, _, _ string, _ bool) (policy.Decision, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return policy.Decision{}, ctx.Err()
		}
	}
	return f.decision, f.err
}

type fakeGenerator struct {
	result *fingerprint.Result
	err    error
	onCall func()
}

func (f *fakeGenerator) Generate(context.Context, string) (*fingerprint.Result, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type captureRenderer struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *captureRenderer) Render(_ context.Context, st RenderState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, st.Phase)
}

func (r *captureRenderer) saw(phase Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.phases {
		if p == phase {
			return true
		}
	}
	return false
}

func completeInputs() Inputs {
	return Inputs{
		Epoch:       "epoch-1",
		TrackID:     "42",
		PlaybackURL: "https://cdn.example.com/audio/42.mp3",
		Form:        metadata.FormValues{Key: "A", Scale: "Minor", BPM: "128"},
	}
}

func newTestMachine(p *fakePersister, d *fakeDecider, g *fakeGenerator, r Renderer, epoch func() string) *Machine {
	return New(p, d, g, r, epoch, logging.NewNop())
}

func TestReevaluatePhases(t *testing.T) {
	tests := []struct {
		name    string
		in      Inputs
		want    Phase
		missing string
	}{
		{
			name: "empty url",
			in:   Inputs{TrackID: "42"},
			want: PhaseNoAudioURL,
		},
		{
			name: "missing bpm",
			in: Inputs{
				TrackID:     "42",
				PlaybackURL: "https://cdn.example.com/audio/42.mp3",
				Form:        metadata.FormValues{Key: "A", Scale: "Minor"},
			},
			want:    PhaseIncompleteMetadata,
			missing: "BPM",
		},
		{
			name: "complete metadata no fingerprint",
			in:   completeInputs(),
			want: PhaseReadyToScan,
		},
		{
			name: "remote fallback completes the form",
			in: Inputs{
				TrackID:     "42",
				PlaybackURL: "https://cdn.example.com/audio/42.mp3",
				Form:        metadata.FormValues{Key: "A"},
				Remote:      &track.Record{TrackID: "42", Scale: "Minor", BPM: 128},
			},
			want: PhaseReadyToScan,
		},
		{
			name: "fingerprint already stored for same url",
			in: Inputs{
				TrackID:     "42",
				PlaybackURL: "https://cdn.example.com/audio/42.mp3",
				Form:        metadata.FormValues{Key: "A", Scale: "Minor", BPM: "128"},
				Remote: &track.Record{
					TrackID:     "42",
					PlaybackURL: "https://cdn.example.com/audio/42.mp3",
					Fingerprint: "fp-existing",
				},
			},
			want: PhaseProtected,
		},
		{
			name: "fingerprint stored but url changed",
			in: Inputs{
				TrackID:     "42",
				PlaybackURL: "https://cdn.example.com/audio/42-v2.mp3",
				Form:        metadata.FormValues{Key: "A", Scale: "Minor", BPM: "128"},
				Remote: &track.Record{
					TrackID:     "42",
					PlaybackURL: "https://cdn.example.com/audio/42.mp3",
					Fingerprint: "fp-existing",
				},
			},
			want: PhaseReadyToScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(&fakePersister{}, &fakeDecider{}, &fakeGenerator{}, nil, nil)
			st := m.Reevaluate(context.Background(), tt.in)
			if st.Phase != tt.want {
				t.Fatalf("phase = %s, want %s", st.Phase, tt.want)
			}
			if tt.missing != "" {
				found := false
				for _, f := range st.Missing {
					if f == tt.missing {
						found = true
					}
				}
				if !found {
					t.Fatalf("missing fields %v should include %s", st.Missing, tt.missing)
				}
			}
		})
	}
}

func TestStartScanStoresWhenUnique(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{Store: true}}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1", DurationMS: 184000}}
	renderer := &captureRenderer{}
	m := newTestMachine(persister, decider, generator, renderer, func() string { return "epoch-1" })

	st, err := m.StartScan(context.Background(), completeInputs())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if st.Phase != PhaseProtected {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseProtected)
	}
	if len(persister.stored) != 1 || persister.stored[0] != "fp-1" {
		t.Fatalf("stored fingerprints = %v", persister.stored)
	}
	// Metadata is persisted before the fingerprint.
	if len(persister.calls) != 2 || persister.calls[0] != "save" || persister.calls[1] != "store" {
		t.Fatalf("call order = %v", persister.calls)
	}
	if got := persister.saved[0]; got.BPM != 128 || got.KeyName != "A" || got.PlaybackURL != completeInputs().PlaybackURL {
		t.Fatalf("saved record = %+v", got)
	}
	if !renderer.saw(PhaseScanning) || !renderer.saw(PhaseProtected) {
		t.Fatalf("rendered phases = %v", renderer.phases)
	}
}

func TestStartScanAuthenticDuplicateStores(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{
		Store:          true,
		IsDuplicate:    true,
		IsAuthentic:    true,
		DuplicateInfo:  "Artist - Original",
		DuplicateCount: 2,
	}}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1"}}
	m := newTestMachine(persister, decider, generator, nil, nil)

	st, err := m.StartScan(context.Background(), completeInputs())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if st.Phase != PhaseProtected || !st.IsDuplicate || !st.IsAuthentic {
		t.Fatalf("state = %+v", st)
	}
	if st.DuplicateCount != 2 || st.DuplicateInfo != "Artist - Original" {
		t.Fatalf("duplicate details = %+v", st)
	}
	if len(persister.stored) != 1 {
		t.Fatalf("stored = %v", persister.stored)
	}
}

func TestStartScanViolation(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{
		IsDuplicate:   true,
		Violation:     true,
		DuplicateInfo: "Artist - Original",
	}}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1"}}
	m := newTestMachine(persister, decider, generator, nil, nil)

	in := completeInputs()
	st, err := m.StartScan(context.Background(), in)
	if !errors.Is(err, faults.ErrToSViolation) {
		t.Fatalf("err = %v, want ErrToSViolation", err)
	}
	if st.Phase != PhaseViolationFailed {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseViolationFailed)
	}
	if len(persister.stored) != 0 {
		t.Fatalf("violating fingerprint was stored: %v", persister.stored)
	}

	// Re-editing metadata on the same audio source does not clear the failure.
	st = m.Reevaluate(context.Background(), in)
	if st.Phase != PhaseViolationFailed {
		t.Fatalf("after reevaluate phase = %s, want %s", st.Phase, PhaseViolationFailed)
	}

	// A different audio source is the only way out.
	in.PlaybackURL = "https://cdn.example.com/audio/42-rerecorded.mp3"
	st = m.Reevaluate(context.Background(), in)
	if st.Phase != PhaseReadyToScan {
		t.Fatalf("after url change phase = %s, want %s", st.Phase, PhaseReadyToScan)
	}
}

func TestProtectedReturnsToReadyOnURLChange(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{Store: true}}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1"}}
	m := newTestMachine(persister, decider, generator, nil, nil)

	in := completeInputs()
	if _, err := m.StartScan(context.Background(), in); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	st := m.Reevaluate(context.Background(), in)
	if st.Phase != PhaseProtected {
		t.Fatalf("same url phase = %s, want %s", st.Phase, PhaseProtected)
	}

	in.PlaybackURL = "https://cdn.example.com/audio/42-v2.mp3"
	st = m.Reevaluate(context.Background(), in)
	if st.Phase != PhaseReadyToScan {
		t.Fatalf("changed url phase = %s, want %s", st.Phase, PhaseReadyToScan)
	}
}

func TestStartScanCoalescesReentrantCalls(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{Store: true}, block: make(chan struct{})}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1"}}
	m := newTestMachine(persister, decider, generator, nil, nil)

	in := completeInputs()
	done := make(chan RenderState, 1)
	go func() {
		st, _ := m.StartScan(context.Background(), in)
		done <- st
	}()

	// Wait for the scan to reach the blocked pre-check.
	for {
		decider.mu.Lock()
		started := decider.calls > 0
		decider.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	st, err := m.StartScan(context.Background(), in)
	if err != nil {
		t.Fatalf("re-entrant StartScan: %v", err)
	}
	if st.Phase != PhaseScanning {
		t.Fatalf("re-entrant phase = %s, want %s", st.Phase, PhaseScanning)
	}
	if re := m.Reevaluate(context.Background(), in); re.Phase != PhaseScanning {
		t.Fatalf("reevaluate during scan = %s, want %s", re.Phase, PhaseScanning)
	}

	close(decider.block)
	final := <-done
	if final.Phase != PhaseProtected {
		t.Fatalf("final phase = %s, want %s", final.Phase, PhaseProtected)
	}
	decider.mu.Lock()
	calls := decider.calls
	decider.mu.Unlock()
	if calls != 1 {
		t.Fatalf("pre-check ran %d times, want 1", calls)
	}
}

func TestStartScanDiscardsStaleEpoch(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{Store: true}}
	current := "epoch-1"
	generator := &fakeGenerator{
		result: &fingerprint.Result{Fingerprint: "fp-1"},
		// The user navigates away while the fingerprint is being computed.
		onCall: func() { current = "epoch-2" },
	}
	renderer := &captureRenderer{}
	m := newTestMachine(persister, decider, generator, renderer, func() string { return current })

	st, err := m.StartScan(context.Background(), completeInputs())
	if !errors.Is(err, faults.ErrStaleEpoch) {
		t.Fatalf("err = %v, want ErrStaleEpoch", err)
	}
	if st.Phase == PhaseProtected {
		t.Fatal("stale completion was applied as Protected")
	}
	if len(persister.stored) != 0 {
		t.Fatalf("stale fingerprint was stored: %v", persister.stored)
	}
	if renderer.saw(PhaseProtected) {
		t.Fatal("stale result was rendered")
	}
}

func TestStartScanDiscardsStaleEpochBeforeSave(t *testing.T) {
	persister := &fakePersister{}
	generator := &fakeGenerator{result: &fingerprint.Result{Fingerprint: "fp-1"}}
	// The page already changed by the time the queued scan runs.
	m := newTestMachine(persister, &fakeDecider{decision: policy.Decision{Store: true}}, generator, nil, func() string { return "epoch-2" })

	st, err := m.StartScan(context.Background(), completeInputs())
	if !errors.Is(err, faults.ErrStaleEpoch) {
		t.Fatalf("err = %v, want ErrStaleEpoch", err)
	}
	if st.Phase == PhaseProtected {
		t.Fatal("stale completion was applied as Protected")
	}
	if len(persister.calls) != 0 {
		t.Fatalf("stale page still persisted: %v", persister.calls)
	}
}

func TestStartScanRejectsInvalidRecord(t *testing.T) {
	persister := &fakePersister{}
	m := newTestMachine(persister, &fakeDecider{}, &fakeGenerator{}, nil, nil)

	in := completeInputs()
	in.Remote = &track.Record{
		TrackID:       "42",
		LicensingType: track.LicensingBoth,
		// Exclusive licensing with no asking price violates the data model.
		ExclusivePrice: "",
	}
	st, err := m.StartScan(context.Background(), in)
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if st.Phase != PhaseReadyToScan {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseReadyToScan)
	}
	if len(persister.calls) != 0 {
		t.Fatalf("invalid record was persisted: %v", persister.calls)
	}
}

func TestStartScanTransientFailureReturnsToReady(t *testing.T) {
	persister := &fakePersister{}
	decider := &fakeDecider{decision: policy.Decision{Store: true}}
	generator := &fakeGenerator{err: faults.Wrap(faults.ErrNetwork, "fingerprint", "generate", "service unreachable", nil)}
	m := newTestMachine(persister, decider, generator, nil, nil)

	st, err := m.StartScan(context.Background(), completeInputs())
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if st.Phase != PhaseReadyToScan {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseReadyToScan)
	}

	// The failure is not terminal; a later attempt succeeds.
	generator.err = nil
	generator.result = &fingerprint.Result{Fingerprint: "fp-1"}
	st, err = m.StartScan(context.Background(), completeInputs())
	if err != nil || st.Phase != PhaseProtected {
		t.Fatalf("retry: phase = %s, err = %v", st.Phase, err)
	}
}

func TestStartScanRejectsIncompleteMetadata(t *testing.T) {
	m := newTestMachine(&fakePersister{}, &fakeDecider{}, &fakeGenerator{}, nil, nil)
	in := completeInputs()
	in.Form.BPM = ""
	st, err := m.StartScan(context.Background(), in)
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if st.Phase != PhaseIncompleteMetadata {
		t.Fatalf("phase = %s, want %s", st.Phase, PhaseIncompleteMetadata)
	}
}
