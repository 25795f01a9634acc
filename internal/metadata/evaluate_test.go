package metadata_test

import (
	"reflect"
	"testing"

	"trackguard/internal/metadata"
)

func TestEvaluateAllMissing(t *testing.T) {
	res := metadata.Evaluate(metadata.FormValues{}, metadata.Fallback{})
	if res.IsComplete {
		t.Fatal("empty inputs must not be complete")
	}
	want := []string{"Key", "Scale", "BPM"}
	if !reflect.DeepEqual(res.Missing, want) {
		t.Fatalf("Missing = %v, want %v", res.Missing, want)
	}
	if res.Sources.Key != metadata.SourceMissing {
		t.Fatalf("expected missing key source, got %q", res.Sources.Key)
	}
}

func TestEvaluateCompletenessLaw(t *testing.T) {
	cases := []struct {
		name     string
		form     metadata.FormValues
		fallback metadata.Fallback
		complete bool
	}{
		{"all from form", metadata.FormValues{Key: "C", Scale: "Major", BPM: "120"}, metadata.Fallback{}, true},
		{"bpm below range", metadata.FormValues{Key: "C", Scale: "Major", BPM: "39"}, metadata.Fallback{}, false},
		{"bpm above range", metadata.FormValues{Key: "C", Scale: "Major", BPM: "301"}, metadata.Fallback{}, false},
		{"bpm at bounds", metadata.FormValues{Key: "C", Scale: "Major", BPM: "40"}, metadata.Fallback{}, true},
		{"bpm not an integer", metadata.FormValues{Key: "C", Scale: "Major", BPM: "fast"}, metadata.Fallback{}, false},
		{"key from fallback", metadata.FormValues{Scale: "Minor", BPM: "90"}, metadata.Fallback{Key: "F#"}, true},
		{"missing scale", metadata.FormValues{Key: "C", BPM: "90"}, metadata.Fallback{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := metadata.Evaluate(tc.form, tc.fallback)
			if res.IsComplete != tc.complete {
				t.Fatalf("IsComplete = %v, want %v (%+v)", res.IsComplete, tc.complete, res)
			}
			if res.IsComplete != (res.HasKey && res.HasScale && res.HasBPM) {
				t.Fatal("completeness law violated")
			}
		})
	}
}

func TestEvaluateFormWinsOverFallback(t *testing.T) {
	res := metadata.Evaluate(
		metadata.FormValues{Key: "D", Scale: "minor", BPM: "128"},
		metadata.Fallback{Key: "C", Scale: "Major", BPM: 90},
	)
	if res.Key != "D" || res.Scale != "Minor" || res.BPM != 128 {
		t.Fatalf("unexpected effective values: %+v", res)
	}
	if res.Sources.Key != metadata.SourceForm || res.Sources.BPM != metadata.SourceForm {
		t.Fatalf("expected form provenance, got %+v", res.Sources)
	}
}

func TestEvaluateFallbackProvenance(t *testing.T) {
	res := metadata.Evaluate(metadata.FormValues{}, metadata.Fallback{Key: "A", Scale: "major", BPM: 140})
	if !res.IsComplete {
		t.Fatalf("expected complete from fallback, got %+v", res)
	}
	if res.Sources.Key != metadata.SourceRemote || res.Sources.Scale != metadata.SourceRemote || res.Sources.BPM != metadata.SourceRemote {
		t.Fatalf("expected remote provenance, got %+v", res.Sources)
	}
	if res.Scale != "Major" {
		t.Fatalf("expected scale normalized to Major, got %q", res.Scale)
	}
}

func TestEvaluateFallbackBPMOutOfRange(t *testing.T) {
	res := metadata.Evaluate(metadata.FormValues{Key: "C", Scale: "Major"}, metadata.Fallback{BPM: 301})
	if res.HasBPM {
		t.Fatal("fallback BPM outside range must not count")
	}
	if res.Sources.BPM != metadata.SourceMissing {
		t.Fatalf("expected missing BPM source, got %q", res.Sources.BPM)
	}
}
