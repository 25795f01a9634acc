package hostpage

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Exists reports whether selector matches at least one element in the
// snapshot markup.
func Exists(snapshot, selector string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot))
	if err != nil {
		return false, fmt.Errorf("parse snapshot: %w", err)
	}
	return doc.Find(selector).Length() > 0, nil
}

// Extract returns the HTML of the first element matching selector, or
// ("", false) when absent.
func Extract(snapshot, selector string) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot))
	if err != nil {
		return "", false, fmt.Errorf("parse snapshot: %w", err)
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false, nil
	}
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", false, fmt.Errorf("render element: %w", err)
	}
	return html, true, nil
}

// Routes derives track identity from the host application's route paths.
type Routes struct {
	edit   *regexp.Regexp
	upload *regexp.Regexp
}

// NewRoutes compiles the configured route patterns. The edit pattern's first
// capture group is the track ID.
func NewRoutes(editPattern, uploadPattern string) (*Routes, error) {
	edit, err := regexp.Compile(editPattern)
	if err != nil {
		return nil, fmt.Errorf("edit route pattern: %w", err)
	}
	upload, err := regexp.Compile(uploadPattern)
	if err != nil {
		return nil, fmt.Errorf("upload route pattern: %w", err)
	}
	return &Routes{edit: edit, upload: upload}, nil
}

// TrackID extracts the track identifier from an edit-route URL. The second
// return value is false on upload routes and unrelated pages, where no ID is
// derivable yet.
func (r *Routes) TrackID(pageURL string) (string, bool) {
	path := routePath(pageURL)
	match := r.edit.FindStringSubmatch(path)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}

// IsEdit reports whether pageURL is an edit route.
func (r *Routes) IsEdit(pageURL string) bool {
	return r.edit.MatchString(routePath(pageURL))
}

// IsUpload reports whether pageURL is an upload route.
func (r *Routes) IsUpload(pageURL string) bool {
	return r.upload.MatchString(routePath(pageURL))
}

// Observed reports whether the engine should attach to this page at all.
func (r *Routes) Observed(pageURL string) bool {
	return r.IsEdit(pageURL) || r.IsUpload(pageURL)
}

func routePath(pageURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return pageURL
	}
	if parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
