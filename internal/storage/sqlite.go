package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the StateStore interface on a single SQLite key-value table
type SQLiteStore struct {
	db *sql.DB
}

var _ interfaces.StateStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the state database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers and keeps PRAGMAs in effect
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.configureWALMode(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure WAL mode: %w", err)
	}

	if err := store.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// configureWALMode configures SQLite to use WAL mode with durable settings
func (s *SQLiteStore) configureWALMode() error {
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Filter state is tiny; FULL keeps every edit durable across crashes
	if _, err := s.db.Exec("PRAGMA synchronous = FULL"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	// In-memory databases report "memory" and cannot use WAL
	if journalMode != "wal" && journalMode != "memory" {
		return fmt.Errorf("failed to enable WAL mode, current mode: %s", journalMode)
	}

	return nil
}

// initializeDatabase creates the state table if it does not exist yet
func (s *SQLiteStore) initializeDatabase() error {
	createStateTable := `
	CREATE TABLE IF NOT EXISTS filter_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := s.db.Exec(createStateTable); err != nil {
		return fmt.Errorf("failed to create filter_state table: %w", err)
	}
	return nil
}

// Get returns the value stored under key
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM filter_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key
func (s *SQLiteStore) Set(key, value string) error {
	query := `
	INSERT INTO filter_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query, key, value, time.Now().UTC())
	if err == nil {
		return nil
	}

	// Check if this is a WAL-related error and attempt recovery
	if !s.isWALError(err) {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if recoveryErr := s.recoverFromWALCorruption(); recoveryErr != nil {
		return fmt.Errorf("failed to write key %s and WAL recovery failed: %w (original: %v)", key, recoveryErr, err)
	}
	if _, err := s.db.Exec(query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write key %s after WAL recovery: %w", key, err)
	}
	return nil
}

// Remove deletes key
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM filter_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// isWALError checks if an error is related to WAL corruption or issues
func (s *SQLiteStore) isWALError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	walErrorPatterns := []string{
		"wal",
		"checkpoint",
		"database is locked",
		"database disk image is malformed",
		"disk i/o error",
	}

	for _, pattern := range walErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// checkpointWAL moves WAL content into the main database file
func (s *SQLiteStore) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// recoverFromWALCorruption attempts to recover from WAL file corruption
func (s *SQLiteStore) recoverFromWALCorruption() error {
	if err := s.checkpointWAL(); err != nil {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("failed to truncate corrupted WAL: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return fmt.Errorf("failed to check database integrity: %w", err)
	}
	if integrityResult != "ok" {
		return fmt.Errorf("database integrity check failed: %s", integrityResult)
	}

	return nil
}

// Close checkpoints the WAL and closes the database
func (s *SQLiteStore) Close() error {
	if err := s.checkpointWAL(); err != nil {
		log.Warn().Err(err).Msg("failed to checkpoint WAL during close")
	}
	return s.db.Close()
}
