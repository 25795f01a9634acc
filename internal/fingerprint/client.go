// Package fingerprint wraps the external acoustic-fingerprint service. The
// analysis algorithm is opaque to the engine; only the resulting signature
// and its hash matter here.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackguard/internal/faults"
	"trackguard/internal/logging"
)

// Result carries the opaque signature computed for one audio source.
type Result struct {
	Fingerprint string `json:"fingerprint"`
	DurationMS  int64  `json:"duration_ms"`
	// Hash is a stable digest of the fingerprint, used as the stored
	// fingerprint_hash.
	Hash string `json:"-"`
}

// Generator produces acoustic fingerprints for playback URLs.
type Generator interface {
	Generate(ctx context.Context, playbackURL string) (*Result, error)
}

// Client calls the fingerprint service over HTTP.
type Client struct {
	serviceURL string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*Client)(nil)

// NewClient builds a fingerprint service client.
func NewClient(serviceURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	serviceURL = strings.TrimSpace(serviceURL)
	if serviceURL == "" {
		return nil, faults.Wrap(faults.ErrNotConfigured, "fingerprint", "new", "service url required", nil)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, "fingerprint"),
	}, nil
}

// Generate analyzes the audio at playbackURL and returns its signature.
func (c *Client) Generate(ctx context.Context, playbackURL string) (*Result, error) {
	if strings.TrimSpace(playbackURL) == "" {
		return nil, faults.Wrap(faults.ErrValidation, "fingerprint", "generate", "playback url required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"audio_url": {playbackURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "fingerprint", "generate", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, faults.Wrap(faults.ErrTimeout, "fingerprint", "generate", "analysis deadline exceeded", err)
		}
		return nil, faults.Wrap(faults.ErrNetwork, "fingerprint", "generate", "transport failure", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "fingerprint", "generate", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, faults.Wrap(faults.ErrNetwork, "fingerprint", "generate", resp.Status, nil)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, faults.Wrap(faults.ErrMalformedResponse, "fingerprint", "generate", "decode analysis", err)
	}
	if strings.TrimSpace(result.Fingerprint) == "" {
		return nil, faults.Wrap(faults.ErrMalformedResponse, "fingerprint", "generate", "empty fingerprint", nil)
	}
	result.Hash = HashOf(result.Fingerprint)
	return &result, nil
}

// HashOf derives the stored fingerprint_hash from a fingerprint.
func HashOf(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}
