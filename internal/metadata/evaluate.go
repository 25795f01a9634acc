// Package metadata holds the pure completeness evaluator that merges
// user-entered form values with remote fallback values.
package metadata

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trackguard/internal/track"
)

// Source records where a field's effective value came from.
type Source string

const (
	SourceForm    Source = "form"
	SourceRemote  Source = "remote"
	SourceMissing Source = "missing"
)

// Field display names used in user-facing missing-field messages.
const (
	FieldKey   = "Key"
	FieldScale = "Scale"
	FieldBPM   = "BPM"
)

// FormValues are the raw values read from the injected inputs.
type FormValues struct {
	Key   string
	Scale string
	BPM   string
}

// Fallback carries remote values used when a form field is empty.
type Fallback struct {
	Key   string
	Scale string
	BPM   int
}

// FallbackFrom builds a Fallback from a remote track record.
func FallbackFrom(rec *track.Record) Fallback {
	if rec == nil {
		return Fallback{}
	}
	return Fallback{Key: rec.KeyName, Scale: rec.Scale, BPM: rec.BPM}
}

// Sources names the provenance of each effective value. Diagnostics only;
// never used for control flow.
type Sources struct {
	Key   Source
	Scale Source
	BPM   Source
}

// Result is the completeness verdict for one evaluation.
type Result struct {
	Key        string
	Scale      string
	BPM        int
	HasKey     bool
	HasScale   bool
	HasBPM     bool
	IsComplete bool
	Missing    []string
	Sources    Sources
}

var titleCaser = cases.Title(language.English)

// Evaluate merges form values with remote fallbacks and produces the
// completeness verdict. A field's effective value is the form value if
// non-empty, else the remote fallback, else empty. HasBPM additionally
// requires the effective value to parse as an integer in [MinBPM, MaxBPM].
func Evaluate(form FormValues, fallback Fallback) Result {
	var res Result

	res.Key, res.Sources.Key = effective(form.Key, fallback.Key)
	res.HasKey = res.Key != ""

	scale, scaleSource := effective(form.Scale, fallback.Scale)
	if scale != "" {
		scale = titleCaser.String(strings.ToLower(scale))
	}
	res.Scale = scale
	res.Sources.Scale = scaleSource
	res.HasScale = res.Scale != ""

	fallbackBPM := ""
	if fallback.BPM != 0 {
		fallbackBPM = strconv.Itoa(fallback.BPM)
	}
	rawBPM, bpmSource := effective(form.BPM, fallbackBPM)
	if bpm, err := strconv.Atoi(rawBPM); err == nil && bpm >= track.MinBPM && bpm <= track.MaxBPM {
		res.BPM = bpm
		res.HasBPM = true
	}
	res.Sources.BPM = bpmSource
	if !res.HasBPM {
		res.Sources.BPM = SourceMissing
	}

	if !res.HasKey {
		res.Missing = append(res.Missing, FieldKey)
	}
	if !res.HasScale {
		res.Missing = append(res.Missing, FieldScale)
	}
	if !res.HasBPM {
		res.Missing = append(res.Missing, FieldBPM)
	}
	res.IsComplete = res.HasKey && res.HasScale && res.HasBPM
	return res
}

// ParseBPM parses a raw form value into a BPM within the accepted range.
func ParseBPM(raw string) (int, bool) {
	bpm, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || bpm < track.MinBPM || bpm > track.MaxBPM {
		return 0, false
	}
	return bpm, true
}

// FormatBPM renders a BPM back into form-field text.
func FormatBPM(bpm int) string {
	return strconv.Itoa(bpm)
}

func effective(formValue, remoteValue string) (string, Source) {
	if v := strings.TrimSpace(formValue); v != "" {
		return v, SourceForm
	}
	if v := strings.TrimSpace(remoteValue); v != "" {
		return v, SourceRemote
	}
	return "", SourceMissing
}
