package track_test

import (
	"testing"

	"trackguard/internal/track"
)

func TestNormalizeForcesNotAvailableForNonExclusive(t *testing.T) {
	rec := track.Record{
		LicensingType:     track.LicensingNonExclusiveOnly,
		ExclusiveStatus:   track.ExclusiveAvailable,
		ExclusivePrice:    "499.99",
		ExclusiveCurrency: "USD",
	}
	rec.Normalize()
	if rec.ExclusiveStatus != track.ExclusiveNotAvailable {
		t.Fatalf("expected not_available, got %q", rec.ExclusiveStatus)
	}
	if rec.ExclusivePrice != "" || rec.ExclusiveCurrency != "" {
		t.Fatal("expected exclusive pricing cleared for non-exclusive licensing")
	}
}

func TestNormalizeDefaultsExclusiveStatus(t *testing.T) {
	rec := track.Record{LicensingType: track.LicensingBoth, ExclusivePrice: "100"}
	rec.Normalize()
	if rec.ExclusiveStatus != track.ExclusiveAvailable {
		t.Fatalf("expected available, got %q", rec.ExclusiveStatus)
	}
}

func TestValidateBPMRange(t *testing.T) {
	cases := []struct {
		name    string
		bpm     int
		wantErr bool
	}{
		{"zero means unset", 0, false},
		{"lower bound", 40, false},
		{"upper bound", 300, false},
		{"too slow", 39, true},
		{"too fast", 301, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := track.Record{LicensingType: track.LicensingNonExclusiveOnly, BPM: tc.bpm}
			err := rec.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestExclusiveAskingRequiresPositivePrice(t *testing.T) {
	rec := track.Record{
		LicensingType:     track.LicensingExclusiveOnly,
		ExclusivePrice:    "-5",
		ExclusiveCurrency: "EUR",
	}
	if _, err := rec.ExclusiveAsking(); err == nil {
		t.Fatal("expected error for negative price")
	}

	rec.ExclusivePrice = "1250.50"
	m, err := rec.ExclusiveAsking()
	if err != nil {
		t.Fatalf("ExclusiveAsking failed: %v", err)
	}
	if m.Currency().Code != "EUR" {
		t.Fatalf("expected EUR, got %s", m.Currency().Code)
	}
}

func TestStatusOfDetectsFingerprint(t *testing.T) {
	st := track.StatusOf(&track.Record{Fingerprint: "abc", FingerprintHash: "h", PlaybackURL: "https://x/a.mp3"})
	if !st.HasFingerprint || st.PlaybackURL != "https://x/a.mp3" {
		t.Fatalf("unexpected status: %#v", st)
	}
	if track.StatusOf(nil).HasFingerprint {
		t.Fatal("nil record must not report a fingerprint")
	}
}
