package main

import (
	"strings"
	"testing"
	"time"

	"trackguard/internal/staging"
)

func TestDraftTable(t *testing.T) {
	drafts := []*staging.PendingSubmission{
		{
			ID:        3,
			PageURL:   "https://tracks.example.com/tracks/upload",
			TrackID:   "42",
			TrackName: "Midnight Run",
			KeyName:   "A",
			Scale:     "Minor",
			BPM:       128,
			UpdatedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:        4,
			PageURL:   "https://tracks.example.com/tracks/upload-2",
			UpdatedAt: time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC),
		},
	}

	out := draftTable(drafts)
	if !strings.Contains(out, "Midnight Run (#42)") {
		t.Fatalf("missing track label:\n%s", out)
	}
	if !strings.Contains(out, "128") {
		t.Fatalf("missing BPM:\n%s", out)
	}
	// Unset fields render as dashes, never as empty cells.
	if !strings.Contains(out, "-") {
		t.Fatalf("missing placeholder for empty draft:\n%s", out)
	}
	if !strings.Contains(out, "BPM") || !strings.Contains(out, "Updated") {
		t.Fatalf("missing headers:\n%s", out)
	}
}

func TestDraftTrackLabel(t *testing.T) {
	cases := []struct {
		name string
		sub  staging.PendingSubmission
		want string
	}{
		{"named and bound", staging.PendingSubmission{TrackName: "Midnight Run", TrackID: "42"}, "Midnight Run (#42)"},
		{"name only", staging.PendingSubmission{TrackName: "Midnight Run"}, "Midnight Run"},
		{"id only", staging.PendingSubmission{TrackID: "42"}, "#42"},
		{"empty", staging.PendingSubmission{}, "-"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := draftTrackLabel(&tc.sub); got != tc.want {
				t.Fatalf("label = %q, want %q", got, tc.want)
			}
		})
	}
}
