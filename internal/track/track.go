// Package track defines the TrackRecord projection of the remote service's
// track data plus the licensing invariants the engine must preserve.
package track

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
)

// LicensingType enumerates how a track may be licensed.
type LicensingType string

const (
	LicensingNonExclusiveOnly LicensingType = "non_exclusive_only"
	LicensingBoth             LicensingType = "both"
	LicensingExclusiveOnly    LicensingType = "exclusive_only"
)

// ExclusiveStatus enumerates the exclusive-license sale state.
type ExclusiveStatus string

const (
	ExclusiveAvailable    ExclusiveStatus = "available"
	ExclusiveSold         ExclusiveStatus = "sold"
	ExclusiveNotAvailable ExclusiveStatus = "not_available"
)

// BPM bounds accepted by the completeness evaluator and the remote service.
const (
	MinBPM = 40
	MaxBPM = 300
)

// Record is the engine's transient local projection of a remote track. The
// remote service owns the canonical copy.
type Record struct {
	TrackID            string          `json:"track_id"`
	TrackName          string          `json:"track_name"`
	KeyName            string          `json:"key_name"`
	Scale              string          `json:"scale"`
	BPM                int             `json:"bpm"`
	Producers          []string        `json:"producers,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	PlaybackURL        string          `json:"playback_url"`
	DurationMS         int64           `json:"duration_ms,omitempty"`
	Fingerprint        string          `json:"fingerprint,omitempty"`
	FingerprintHash    string          `json:"fingerprint_hash,omitempty"`
	LicensingType      LicensingType   `json:"licensing_type"`
	ExclusivePrice     string          `json:"exclusive_price,omitempty"`
	ExclusiveCurrency  string          `json:"exclusive_currency,omitempty"`
	ExclusiveStatus    ExclusiveStatus `json:"exclusive_status,omitempty"`
	ExclusiveBuyerInfo string          `json:"exclusive_buyer_info,omitempty"`
}

// Normalize enforces the licensing invariant: a non-exclusive-only track can
// never carry an exclusive sale state or price.
func (r *Record) Normalize() {
	if r.LicensingType == "" {
		r.LicensingType = LicensingNonExclusiveOnly
	}
	if r.LicensingType == LicensingNonExclusiveOnly {
		r.ExclusiveStatus = ExclusiveNotAvailable
		r.ExclusivePrice = ""
		r.ExclusiveCurrency = ""
		r.ExclusiveBuyerInfo = ""
		return
	}
	if r.ExclusiveStatus == "" {
		r.ExclusiveStatus = ExclusiveAvailable
	}
}

// Validate reports the first field that violates the data model.
func (r *Record) Validate() error {
	switch r.LicensingType {
	case LicensingNonExclusiveOnly, LicensingBoth, LicensingExclusiveOnly:
	default:
		return fmt.Errorf("licensing_type: unknown value %q", r.LicensingType)
	}
	if r.BPM != 0 && (r.BPM < MinBPM || r.BPM > MaxBPM) {
		return fmt.Errorf("bpm %d outside valid range [%d, %d]", r.BPM, MinBPM, MaxBPM)
	}
	if r.LicensingType != LicensingNonExclusiveOnly {
		if _, err := r.ExclusiveAsking(); err != nil {
			return err
		}
	}
	return nil
}

// ExclusiveAsking parses the exclusive price into a money value. Only
// meaningful when the licensing type permits exclusive sales.
func (r *Record) ExclusiveAsking() (*money.Money, error) {
	price := strings.TrimSpace(r.ExclusivePrice)
	if price == "" {
		return nil, errors.New("exclusive_price required for exclusive licensing")
	}
	amount, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return nil, fmt.Errorf("exclusive_price: %w", err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("exclusive_price must be positive, got %s", price)
	}
	currency := strings.ToUpper(strings.TrimSpace(r.ExclusiveCurrency))
	if currency == "" {
		currency = money.USD
	}
	return money.NewFromFloat(amount, currency), nil
}

// FingerprintStatus is derived fresh from a Record plus a duplicate pre-check;
// it is never cached beyond the page's lifetime.
type FingerprintStatus struct {
	HasFingerprint  bool
	PlaybackURL     string
	Fingerprint     string
	FingerprintHash string
	IsDuplicate     bool
	IsAuthentic     bool
	DuplicateInfo   string
	DuplicateCount  int
}

// StatusOf derives the fingerprint status for a record without duplicate
// analysis applied.
func StatusOf(r *Record) FingerprintStatus {
	if r == nil {
		return FingerprintStatus{}
	}
	return FingerprintStatus{
		HasFingerprint:  strings.TrimSpace(r.Fingerprint) != "",
		PlaybackURL:     r.PlaybackURL,
		Fingerprint:     r.Fingerprint,
		FingerprintHash: r.FingerprintHash,
	}
}
