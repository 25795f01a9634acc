package faults_test

import (
	"errors"
	"testing"

	"trackguard/internal/faults"
)

func TestWrapPreservesMarker(t *testing.T) {
	inner := errors.New("connection refused")
	err := faults.Wrap(faults.ErrNetwork, "remote", "check_fingerprint", "pre-check failed", inner)
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("expected network marker, got %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected inner error to be wrapped, got %v", err)
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := faults.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, faults.ErrNetwork) {
		t.Fatalf("expected default marker, got %v", err)
	}
}

func TestTerminalClassification(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		terminal bool
	}{
		{"violation", faults.Wrap(faults.ErrToSViolation, "policy", "decide", "", nil), true},
		{"validation", faults.ErrValidation, true},
		{"timeout", faults.Wrap(faults.ErrTimeout, "remote", "fetch", "", nil), false},
		{"element", faults.ErrElementNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := faults.Terminal(tc.err); got != tc.terminal {
				t.Fatalf("Terminal(%v) = %v, want %v", tc.err, got, tc.terminal)
			}
		})
	}
}

func TestDegradedCoversTimeoutAndNetwork(t *testing.T) {
	if !faults.Degraded(faults.ErrTimeout) || !faults.Degraded(faults.ErrNetwork) {
		t.Fatal("expected timeout and network to count as degraded")
	}
	if faults.Degraded(faults.ErrToSViolation) {
		t.Fatal("violation is not a degraded condition")
	}
}
