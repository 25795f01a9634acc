// Package staging persists draft metadata captured on upload pages before the
// host app has assigned a track ID. Drafts survive daemon restarts and are
// consumed once the submission resolves to an edit page.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trackguard/internal/config"
	"trackguard/internal/faults"
)

// PendingSubmission is one draft captured from an upload or edit page.
type PendingSubmission struct {
	ID                 int64
	PageURL            string
	TrackID            string
	TrackName          string
	KeyName            string
	Scale              string
	BPM                int
	PlaybackURL        string
	DurationMS         int64
	Producers          []string
	Tags               []string
	LicensingType      string
	ExclusivePrice     string
	ExclusiveCurrency  string
	ExclusiveStatus    string
	ExclusiveBuyerInfo string
	PageEpoch          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store manages pending-submission persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the staging database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.StagingDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert stores or refreshes the draft for a page URL.
func (s *Store) Upsert(ctx context.Context, sub *PendingSubmission) error {
	if sub == nil || sub.PageURL == "" {
		return faults.Wrap(faults.ErrValidation, "staging", "upsert", "page url required", nil)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_submissions (
            page_url, track_id, track_name, key_name, scale, bpm,
            playback_url, duration_ms, producers, tags, licensing_type,
            exclusive_price, exclusive_currency, exclusive_status,
            exclusive_buyer_info, page_epoch, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(page_url) DO UPDATE SET
            track_id = excluded.track_id,
            track_name = excluded.track_name,
            key_name = excluded.key_name,
            scale = excluded.scale,
            bpm = excluded.bpm,
            playback_url = excluded.playback_url,
            duration_ms = excluded.duration_ms,
            producers = excluded.producers,
            tags = excluded.tags,
            licensing_type = excluded.licensing_type,
            exclusive_price = excluded.exclusive_price,
            exclusive_currency = excluded.exclusive_currency,
            exclusive_status = excluded.exclusive_status,
            exclusive_buyer_info = excluded.exclusive_buyer_info,
            page_epoch = excluded.page_epoch,
            updated_at = excluded.updated_at`,
		sub.PageURL, sub.TrackID, sub.TrackName, sub.KeyName, sub.Scale, sub.BPM,
		sub.PlaybackURL, sub.DurationMS, JoinList(sub.Producers), JoinList(sub.Tags),
		sub.LicensingType, sub.ExclusivePrice, sub.ExclusiveCurrency,
		sub.ExclusiveStatus, sub.ExclusiveBuyerInfo, sub.PageEpoch, timestamp, timestamp,
	)
	if err != nil {
		return faults.Wrap(faults.ErrPersistence, "staging", "upsert", "store draft", err)
	}
	sub.UpdatedAt = now
	return nil
}

// Get returns the draft for a page URL, or nil when none exists.
func (s *Store) Get(ctx context.Context, pageURL string) (*PendingSubmission, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+" FROM pending_submissions WHERE page_url = ?", pageURL)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "get", "load draft", err)
	}
	return sub, nil
}

// ConsumeForTrack returns and deletes the most recent draft bound to a track
// ID. Returns nil when no draft is pending for the track.
func (s *Store) ConsumeForTrack(ctx context.Context, trackID string) (*PendingSubmission, error) {
	if trackID == "" {
		return nil, nil
	}
	return s.consume(ctx,
		selectColumns+` FROM pending_submissions
         WHERE track_id = ? ORDER BY updated_at DESC LIMIT 1`, trackID)
}

// ConsumeForPage returns and deletes the draft for a page URL.
func (s *Store) ConsumeForPage(ctx context.Context, pageURL string) (*PendingSubmission, error) {
	if pageURL == "" {
		return nil, nil
	}
	return s.consume(ctx,
		selectColumns+" FROM pending_submissions WHERE page_url = ?", pageURL)
}

func (s *Store) consume(ctx context.Context, query string, arg any) (*PendingSubmission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "consume", "begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	sub, err := scanSubmission(tx.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "consume", "load draft", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_submissions WHERE id = ?", sub.ID); err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "consume", "delete draft", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "consume", "commit", err)
	}
	return sub, nil
}

// PruneAbandoned deletes drafts not touched within maxAge and reports how
// many were removed.
func (s *Store) PruneAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_submissions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, faults.Wrap(faults.ErrPersistence, "staging", "prune", "delete abandoned drafts", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, faults.Wrap(faults.ErrPersistence, "staging", "prune", "count removals", err)
	}
	return removed, nil
}

// List returns pending drafts ordered by most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]*PendingSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM pending_submissions ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "list", "query drafts", err)
	}
	defer rows.Close()

	var subs []*PendingSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, faults.Wrap(faults.ErrPersistence, "staging", "list", "scan draft", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.ErrPersistence, "staging", "list", "iterate drafts", err)
	}
	return subs, nil
}

// Count returns the number of pending drafts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM pending_submissions").Scan(&count); err != nil {
		return 0, faults.Wrap(faults.ErrPersistence, "staging", "count", "count drafts", err)
	}
	return count, nil
}

const selectColumns = `SELECT id, page_url, track_id, track_name, key_name, scale, bpm,
    playback_url, duration_ms, producers, tags, licensing_type,
    exclusive_price, exclusive_currency, exclusive_status, exclusive_buyer_info,
    page_epoch, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*PendingSubmission, error) {
	var (
		sub       PendingSubmission
		producers string
		tags      string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&sub.ID, &sub.PageURL, &sub.TrackID, &sub.TrackName,
		&sub.KeyName, &sub.Scale, &sub.BPM, &sub.PlaybackURL, &sub.DurationMS,
		&producers, &tags, &sub.LicensingType, &sub.ExclusivePrice,
		&sub.ExclusiveCurrency, &sub.ExclusiveStatus, &sub.ExclusiveBuyerInfo,
		&sub.PageEpoch, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sub.Producers = SplitList(producers)
	sub.Tags = SplitList(tags)
	sub.CreatedAt = parseTimestamp(createdAt)
	sub.UpdatedAt = parseTimestamp(updatedAt)
	return &sub, nil
}

// JoinList flattens a value list for TEXT storage; SplitList reverses it.
func JoinList(values []string) string {
	return strings.Join(values, ",")
}

func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
