package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS usage_policy (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		white_list_json TEXT NOT NULL,
		limits_json TEXT NOT NULL,
		default_limit INTEGER NOT NULL,
		command_token TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadPolicy returns the last saved snapshot, or nil when none exists.
func (s *SQLiteStore) LoadPolicy(ctx context.Context) (*PolicySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT white_list_json, limits_json, default_limit, command_token FROM usage_policy WHERE id = 1`)

	var whiteListJSON, limitsJSON string
	var snap PolicySnapshot
	err := row.Scan(&whiteListJSON, &limitsJSON, &snap.DefaultLimit, &snap.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan policy row: %w", err)
	}

	if err := json.Unmarshal([]byte(whiteListJSON), &snap.WhiteList); err != nil {
		return nil, fmt.Errorf("decode white list: %w", err)
	}
	if err := json.Unmarshal([]byte(limitsJSON), &snap.Limits); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	return &snap, nil
}

// SavePolicy replaces the stored snapshot.
func (s *SQLiteStore) SavePolicy(ctx context.Context, snap *PolicySnapshot) error {
	whiteListJSON, err := json.Marshal(snap.WhiteList)
	if err != nil {
		return fmt.Errorf("encode white list: %w", err)
	}
	limitsJSON, err := json.Marshal(snap.Limits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}

	query := `
		INSERT INTO usage_policy (id, white_list_json, limits_json, default_limit, command_token, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			white_list_json = excluded.white_list_json,
			limits_json = excluded.limits_json,
			default_limit = excluded.default_limit,
			command_token = excluded.command_token,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		string(whiteListJSON), string(limitsJSON), snap.DefaultLimit, snap.Token, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
