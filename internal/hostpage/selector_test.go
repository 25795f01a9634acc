package hostpage_test

import (
	"testing"

	"trackguard/internal/hostpage"
)

const sampleMarkup = `
<html><body>
  <form class="track-edit-form">
    <input name="track_name" value="Night Drive">
    <input name="source_audio_url" value="https://x/a.mp3">
  </form>
</body></html>`

func TestExists(t *testing.T) {
	ok, err := hostpage.Exists(sampleMarkup, "form.track-edit-form")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("expected form selector to match")
	}

	ok, err = hostpage.Exists(sampleMarkup, "#trackguard-panel")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("expected panel selector to miss")
	}
}

func TestExtractReturnsElementMarkup(t *testing.T) {
	html, found, err := hostpage.Extract(sampleMarkup, "input[name='track_name']")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !found {
		t.Fatal("expected input to be found")
	}
	if html == "" {
		t.Fatal("expected non-empty element markup")
	}
}

func TestRoutesTrackID(t *testing.T) {
	routes, err := hostpage.NewRoutes(`^/tracks/(\d+)/edit$`, `^/tracks/upload$`)
	if err != nil {
		t.Fatalf("NewRoutes failed: %v", err)
	}

	cases := []struct {
		name   string
		url    string
		wantID string
		wantOK bool
	}{
		{"edit route", "https://tracks.example.com/tracks/9182/edit", "9182", true},
		{"upload route", "https://tracks.example.com/tracks/upload", "", false},
		{"unrelated", "https://tracks.example.com/profile", "", false},
		{"edit with query", "https://tracks.example.com/tracks/7/edit?tab=pricing", "7", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := routes.TrackID(tc.url)
			if id != tc.wantID || ok != tc.wantOK {
				t.Fatalf("TrackID(%q) = (%q, %v), want (%q, %v)", tc.url, id, ok, tc.wantID, tc.wantOK)
			}
		})
	}

	if !routes.Observed("https://tracks.example.com/tracks/upload") {
		t.Fatal("upload route must be observed")
	}
	if routes.Observed("https://tracks.example.com/about") {
		t.Fatal("unrelated route must not be observed")
	}
}
