// Package store provides persistent storage for run history, checksum
// records, and agent preferences. Every mutation is a single-row write so
// a crash between an execution and its record never leaves partial state.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Preference defaults. Callers never see a missing row; the typed
// accessors fall back to these values.
const (
	DefaultNetworkWait    = true
	DefaultNetworkTimeout = 180
)

// Store manages the agent's sqlite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// RunRecord is one row of per-user run history.
type RunRecord struct {
	ID       string
	Username string
	ItemPath string
	RanAt    time.Time
}

// Override marks an item as administratively re-enabled at a point in time.
type Override struct {
	ItemPath string
	AddedAt  time.Time
}

// Checksum is one allow-list entry.
type Checksum struct {
	ItemPath string
	Digest   string
}

// New opens (creating if necessary) the database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "stagecoach.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers from blocking the single writer and gives us
	// durable single-statement commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

// migrate creates or updates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_history (
		username TEXT NOT NULL,
		item_path TEXT NOT NULL,
		record_id TEXT NOT NULL,
		ran_at DATETIME NOT NULL,
		PRIMARY KEY (username, item_path)
	);

	CREATE TABLE IF NOT EXISTS overrides (
		item_path TEXT PRIMARY KEY,
		added_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checksums (
		item_path TEXT PRIMARY KEY,
		digest TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ignored_users (
		username TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_history_item ON run_history(item_path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run History
// =============================================================================

// GetRun returns the run record for (username, itemPath), or nil if the
// item has never been recorded for that user.
func (s *Store) GetRun(username, itemPath string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec RunRecord
	err := s.db.QueryRow(`
		SELECT record_id, username, item_path, ran_at
		FROM run_history WHERE username = ? AND item_path = ?
	`, username, itemPath).Scan(&rec.ID, &rec.Username, &rec.ItemPath, &rec.RanAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// RecordRun upserts the run record for (username, itemPath). The upsert is
// a single statement, so history is never partially updated.
func (s *Store) RecordRun(username, itemPath string, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entropy := rand.New(rand.NewSource(ranAt.UnixNano()))
	recordID := ulid.MustNew(ulid.Timestamp(ranAt), entropy).String()

	_, err := s.db.Exec(`
		INSERT INTO run_history (username, item_path, record_id, ran_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username, item_path) DO UPDATE SET
			record_id = excluded.record_id,
			ran_at = excluded.ran_at
	`, username, itemPath, recordID, ranAt.UTC())
	return err
}

// GetAllRuns returns every run record, ordered by user then path.
func (s *Store) GetAllRuns() ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT record_id, username, item_path, ran_at
		FROM run_history ORDER BY username, item_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.ItemPath, &rec.RanAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// =============================================================================
// Override Epochs
// =============================================================================

// GetOverride returns the override for itemPath, or nil if none exists.
func (s *Store) GetOverride(itemPath string) (*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o Override
	err := s.db.QueryRow(
		"SELECT item_path, added_at FROM overrides WHERE item_path = ?", itemPath,
	).Scan(&o.ItemPath, &o.AddedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// AddOverride records an override for itemPath at the given time,
// replacing any previous entry.
func (s *Store) AddOverride(itemPath string, addedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO overrides (item_path, added_at) VALUES (?, ?)
		ON CONFLICT(item_path) DO UPDATE SET added_at = excluded.added_at
	`, itemPath, addedAt.UTC())
	return err
}

// RemoveOverride deletes the override for itemPath. Removing an absent
// entry is not an error.
func (s *Store) RemoveOverride(itemPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM overrides WHERE item_path = ?", itemPath)
	return err
}

// GetAllOverrides returns every override, ordered by path.
func (s *Store) GetAllOverrides() ([]*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT item_path, added_at FROM overrides ORDER BY item_path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []*Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.ItemPath, &o.AddedAt); err != nil {
			return nil, err
		}
		overrides = append(overrides, &o)
	}
	return overrides, rows.Err()
}

// =============================================================================
// Checksums
// =============================================================================

// ChecksumCount returns the number of allow-list entries. Zero means
// trust enforcement is bypassed system-wide.
func (s *Store) ChecksumCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM checksums").Scan(&n)
	return n, err
}

// GetChecksum returns the stored digest for itemPath, or "" if untracked.
func (s *Store) GetChecksum(itemPath string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var digest string
	err := s.db.QueryRow(
		"SELECT digest FROM checksums WHERE item_path = ?", itemPath,
	).Scan(&digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return digest, nil
}

// SetChecksum stores or replaces the digest for a single item.
func (s *Store) SetChecksum(itemPath, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO checksums (item_path, digest) VALUES (?, ?)
		ON CONFLICT(item_path) DO UPDATE SET digest = excluded.digest
	`, itemPath, digest)
	return err
}

// ReplaceChecksums rewrites the allow-list wholesale in one transaction.
// This backs the administrator's bulk regeneration command.
func (s *Store) ReplaceChecksums(entries []Checksum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM checksums"); err != nil {
		return fmt.Errorf("clear checksums: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(
			"INSERT INTO checksums (item_path, digest) VALUES (?, ?)", e.ItemPath, e.Digest,
		); err != nil {
			return fmt.Errorf("insert checksum %s: %w", e.ItemPath, err)
		}
	}
	return tx.Commit()
}

// GetAllChecksums returns every allow-list entry, ordered by path.
func (s *Store) GetAllChecksums() ([]Checksum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT item_path, digest FROM checksums ORDER BY item_path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Checksum
	for rows.Next() {
		var e Checksum
		if err := rows.Scan(&e.ItemPath, &e.Digest); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// Ignored Users
// =============================================================================

// IsUserIgnored reports whether username is exempt from login processing.
func (s *Store) IsUserIgnored(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM ignored_users WHERE username = ?", username,
	).Scan(&n)
	return n > 0, err
}

// AddIgnoredUser adds username to the ignored set. Adding an existing
// user is a no-op.
func (s *Store) AddIgnoredUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO ignored_users (username) VALUES (?) ON CONFLICT(username) DO NOTHING",
		username,
	)
	return err
}

// RemoveIgnoredUser removes username from the ignored set.
func (s *Store) RemoveIgnoredUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM ignored_users WHERE username = ?", username)
	return err
}

// GetIgnoredUsers returns the ignored set, sorted.
func (s *Store) GetIgnoredUsers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT username FROM ignored_users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// Preferences
// =============================================================================

// Each preference is one explicitly named key with a typed accessor and a
// default; there is no reflective encode/decode of a settings struct.

func (s *Store) getPref(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) setPref(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// NetworkWait reports whether the boot-once pass waits for network
// readiness. Defaults to true.
func (s *Store) NetworkWait() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok, err := s.getPref("network_wait")
	if err != nil || !ok {
		return DefaultNetworkWait, err
	}
	return v == "true", nil
}

// SetNetworkWait sets the network-wait preference.
func (s *Store) SetNetworkWait(wait bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setPref("network_wait", strconv.FormatBool(wait))
}

// NetworkTimeout returns the network wait timeout in seconds.
// Defaults to 180.
func (s *Store) NetworkTimeout() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok, err := s.getPref("network_timeout")
	if err != nil || !ok {
		return DefaultNetworkTimeout, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil || n <= 0 {
		return DefaultNetworkTimeout, nil
	}
	return n, nil
}

// SetNetworkTimeout sets the network wait timeout in seconds.
func (s *Store) SetNetworkTimeout(seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setPref("network_timeout", strconv.Itoa(seconds))
}
