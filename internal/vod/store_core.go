package vod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"livestreamdvr/internal/config"
)

// Store persists VODs with their segments and chapters.
type Store struct {
	db         *sql.DB
	path       string
	storageDir string
}

const (
	sqliteBusyCode     = 5
	busyAttempts       = 5
	busyInitialBackoff = 10 * time.Millisecond
	busyMaxBackoff     = 200 * time.Millisecond
)

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy reruns op with exponential backoff while SQLite reports the
// database as locked.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isBusy(lastErr) || attempt == busyAttempts-1 {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyMaxBackoff)
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Open connects to the VOD database at cfg.DatabasePath, creating the
// schema on first use.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
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
	// Pragmas are per connection; keep a single one so they always apply.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath, storageDir: cfg.Paths.StorageDir}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
