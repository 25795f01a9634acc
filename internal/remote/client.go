// Package remote mediates every read and write against the metadata/
// fingerprint service: concurrent identical requests share one in-flight
// call, successful reads are cached for the configured TTL, and every request
// is bound to a cancellation deadline.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trackguard/internal/faults"
	"trackguard/internal/logging"
	"trackguard/internal/retry"
	"trackguard/internal/track"
)

// CheckResult is the duplicate analysis returned by the pre-check endpoint
// and echoed by fingerprint storage.
type CheckResult struct {
	IsDuplicate    bool   `json:"is_duplicate"`
	IsAuthentic    bool   `json:"is_authentic"`
	DuplicateInfo  string `json:"duplicate_info"`
	DuplicateCount int    `json:"duplicate_count"`
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Client is the remote data access layer.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	cache      Store
	logger     *slog.Logger

	mu    sync.Mutex
	group *singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// New creates a remote client. cache may be nil, in which case every read
// goes to the network.
func New(baseURL, apiKey string, cache Store, logger *slog.Logger, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("remote base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		timeout:    10 * time.Second,
		httpClient: &http.Client{},
		cache:      cache,
		logger:     logging.NewComponentLogger(logger, "remote"),
		group:      new(singleflight.Group),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ResetInflight discards the coalescing map. Called on navigation so a new
// page never attaches to a previous page's in-flight requests. TTL cache
// entries survive; only coalescing state is dropped.
func (c *Client) ResetInflight() {
	c.mu.Lock()
	c.group = new(singleflight.Group)
	c.mu.Unlock()
}

func (c *Client) flightGroup() *singleflight.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// FetchTrackByID loads the remote track record for a confirmed track ID.
func (c *Client) FetchTrackByID(ctx context.Context, trackID string) (*track.Record, error) {
	if strings.TrimSpace(trackID) == "" {
		return nil, faults.Wrap(faults.ErrValidation, "remote", "fetch_track", "track id required", nil)
	}
	params := url.Values{"track_id": {trackID}}
	return c.fetchTrack(ctx, params)
}

// FetchTrackByName loads the remote track record by name, used during upload
// flows before a track ID is known.
func (c *Client) FetchTrackByName(ctx context.Context, trackName string) (*track.Record, error) {
	if strings.TrimSpace(trackName) == "" {
		return nil, faults.Wrap(faults.ErrValidation, "remote", "fetch_track", "track name required", nil)
	}
	params := url.Values{"track_name": {trackName}}
	return c.fetchTrack(ctx, params)
}

func (c *Client) fetchTrack(ctx context.Context, params url.Values) (*track.Record, error) {
	body, err := c.get(ctx, params, true)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, faults.Wrap(faults.ErrMalformedResponse, "remote", "fetch_track", "decode envelope", err)
	}
	var rec track.Record
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, faults.Wrap(faults.ErrMalformedResponse, "remote", "fetch_track", "decode track record", err)
		}
	}
	rec.Normalize()
	return &rec, nil
}

// CheckFingerprint runs the side-effect-free duplicate pre-check. The verdict
// is never served from the TTL cache: a stale verdict could let a duplicate
// through, so only coalescing applies.
func (c *Client) CheckFingerprint(ctx context.Context, fingerprint, trackID string) (*CheckResult, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, faults.Wrap(faults.ErrValidation, "remote", "check_fingerprint", "fingerprint required", nil)
	}
	params := url.Values{
		"check_fingerprint": {fingerprint},
		"track_id":          {trackID},
	}
	body, err := c.get(ctx, params, false)
	if err != nil {
		return nil, err
	}
	return decodeCheckResult(body, "check_fingerprint")
}

// SaveMetadata persists the track's metadata and playback URL. Idempotent per
// track_id on the service side; retried once here before surfacing a
// persistence error.
func (c *Client) SaveMetadata(ctx context.Context, rec *track.Record) error {
	if rec == nil || strings.TrimSpace(rec.TrackID) == "" {
		return faults.Wrap(faults.ErrValidation, "remote", "save_metadata", "track id required", nil)
	}
	form := url.Values{
		"track_id":       {rec.TrackID},
		"key_name":       {rec.KeyName},
		"scale":          {rec.Scale},
		"bpm":            {fmt.Sprintf("%d", rec.BPM)},
		"licensing_type": {string(rec.LicensingType)},
	}
	if rec.PlaybackURL != "" {
		form.Set("playback_url", rec.PlaybackURL)
	}
	if rec.DurationMS > 0 {
		form.Set("duration_ms", fmt.Sprintf("%d", rec.DurationMS))
	}
	for _, producer := range rec.Producers {
		form.Add("producers", producer)
	}
	for _, tag := range rec.Tags {
		form.Add("tags", tag)
	}
	if rec.LicensingType != track.LicensingNonExclusiveOnly {
		form.Set("exclusive_price", rec.ExclusivePrice)
		form.Set("exclusive_currency", rec.ExclusiveCurrency)
		form.Set("exclusive_status", string(rec.ExclusiveStatus))
		form.Set("exclusive_buyer_info", rec.ExclusiveBuyerInfo)
	}

	err := retry.Do(ctx, retry.Policy{Attempts: 2, Delay: 500 * time.Millisecond}, func(ctx context.Context) error {
		_, err := c.post(ctx, form)
		return err
	})
	if err != nil {
		return faults.Wrap(faults.ErrPersistence, "remote", "save_metadata", "write failed after retry", err)
	}
	return nil
}

// StoreFingerprint persists a fingerprint. Callers must have confirmed via
// CheckFingerprint that storage is allowed; the response echoes the service's
// duplicate analysis.
func (c *Client) StoreFingerprint(ctx context.Context, trackID, fingerprint string) (*CheckResult, error) {
	if strings.TrimSpace(trackID) == "" || strings.TrimSpace(fingerprint) == "" {
		return nil, faults.Wrap(faults.ErrValidation, "remote", "store_fingerprint", "track id and fingerprint required", nil)
	}
	form := url.Values{
		"track_id":    {trackID},
		"fingerprint": {fingerprint},
	}
	body, err := c.post(ctx, form)
	if err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "remote", "store_fingerprint", "write failed", err)
	}
	return decodeCheckResult(body, "store_fingerprint")
}

// DeleteFingerprint revokes a stored fingerprint, tagged with the reason for
// the revocation.
func (c *Client) DeleteFingerprint(ctx context.Context, trackID, reason string) error {
	if strings.TrimSpace(trackID) == "" {
		return faults.Wrap(faults.ErrValidation, "remote", "delete_fingerprint", "track id required", nil)
	}
	form := url.Values{
		"track_id":           {trackID},
		"delete_fingerprint": {"true"},
		"reason":             {reason},
	}
	if _, err := c.post(ctx, form); err != nil {
		return faults.Wrap(faults.ErrPersistence, "remote", "delete_fingerprint", "revocation failed", err)
	}
	return nil
}

func decodeCheckResult(body []byte, op string) (*CheckResult, error) {
	var res CheckResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, faults.Wrap(faults.ErrMalformedResponse, "remote", op, "decode duplicate analysis", err)
	}
	return &res, nil
}

// get performs a cached, coalesced GET. When useCache is false the TTL cache
// is bypassed but coalescing still applies.
func (c *Client) get(ctx context.Context, params url.Values, useCache bool) ([]byte, error) {
	key := CacheKey(c.baseURL, params)

	if useCache && c.cache != nil {
		if value, ok := c.cache.Get(ctx, key); ok {
			return value, nil
		}
	}

	value, err, _ := c.flightGroup().Do(key, func() (any, error) {
		body, err := c.do(ctx, http.MethodGet, params, nil)
		if err != nil {
			return nil, err
		}
		if useCache && c.cache != nil {
			c.cache.Set(ctx, key, body)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (c *Client) post(ctx context.Context, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, nil, form)
}

func (c *Client) do(ctx context.Context, method string, params url.Values, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "remote", "request", "build request", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, faults.Wrap(faults.ErrTimeout, "remote", "request", "deadline exceeded", err)
		}
		return nil, faults.Wrap(faults.ErrNetwork, "remote", "request", "transport failure", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.ErrNetwork, "remote", "request", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	if len(body) > 0 && !json.Valid(body) {
		return nil, faults.Wrap(faults.ErrMalformedResponse, "remote", "request", "response is not valid json", nil)
	}
	return body, nil
}
