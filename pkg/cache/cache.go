// Package cache provides a sqlite-backed TTL cache with stale fallback and
// an append-only daily snapshot ledger.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the sqlite database holding cached operation results and
// daily snapshots. Writes are per-key atomic; there are no cross-key
// transactions.
type Store struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     *zap.Logger

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// Snapshot is one recorded (date, subject) value of the historical series.
type Snapshot struct {
	Date      string          `json:"date"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, defaultTTL time.Duration, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &Store{
		db:         db,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);

		CREATE TABLE IF NOT EXISTS snapshots (
			date TEXT NOT NULL,
			subject TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (date, subject)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_subject ON snapshots(subject, date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the cached value for key if it has not expired. An expired
// row is reported as a miss but kept in place: it stays available to
// GetStale as the fallback when a fresh fetch fails.
func (s *Store) Get(key string) (json.RawMessage, bool, error) {
	var data string
	var expiresAt time.Time
	err := s.db.QueryRow(
		"SELECT data, expires_at FROM cache WHERE key = ?", key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	if s.now().After(expiresAt) {
		return nil, false, nil
	}
	return json.RawMessage(data), true, nil
}

// GetStale returns the last stored value for key regardless of expiry.
// Intended only for fallback when a fresh fetch fails.
func (s *Store) GetStale(key string) (json.RawMessage, bool, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM cache WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}
	return json.RawMessage(data), true, nil
}

// Set stores value under key with the given TTL. A zero ttl uses the
// store's default.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	now := s.now()
	_, err = s.db.Exec(
		`INSERT INTO cache (key, data, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, string(data), now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Delete removes a cache entry.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// staleRetention bounds how long an expired row remains useful as a
// stale fallback before the sweep may remove it.
const staleRetention = 24 * time.Hour

// CleanupExpired removes cache rows whose expiry is older than the stale
// retention window and reports how many. Recently expired rows are kept
// so GetStale can still serve them.
func (s *Store) CleanupExpired() (int, error) {
	res, err := s.db.Exec("DELETE FROM cache WHERE expires_at < ?", s.now().Add(-staleRetention))
	if err != nil {
		return 0, fmt.Errorf("cache cleanup failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("expired cache rows removed", zap.Int64("count", n))
	}
	return int(n), nil
}

// UpsertSnapshot records value for (date, subject). Re-running within the
// same day replaces the row, never duplicates it.
func (s *Store) UpsertSnapshot(date, subject string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots (date, subject, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(date, subject) DO UPDATE SET data = excluded.data,
			created_at = excluded.created_at`,
		date, subject, string(data), s.now(),
	)
	if err != nil {
		return fmt.Errorf("snapshot upsert failed: %w", err)
	}
	return nil
}

// Snapshots returns the recorded series for subject over the last days
// days, ordered by date ascending.
func (s *Store) Snapshots(subject string, days int) ([]Snapshot, error) {
	cutoff := s.now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := s.db.Query(
		`SELECT date, subject, data, created_at FROM snapshots
		 WHERE subject = ? AND date >= ? ORDER BY date ASC`,
		subject, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot read failed: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var data string
		if err := rows.Scan(&snap.Date, &snap.Subject, &data, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("snapshot scan failed: %w", err)
		}
		snap.Data = json.RawMessage(data)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
