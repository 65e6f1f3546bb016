package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned when the database has no schema yet.
var ErrNotInitialized = errors.New("database not initialized: run 'dupwrap start' or 'dupwrap enable' first")

// Store provides SQLite persistence for dupwrap: the enabled flag, the
// run history written by the interceptor and the event journal.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the specified database path.
// Use ":memory:" for in-memory databases (useful for testing).
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// The supervisor and any number of interceptor processes share the file.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Store{db: db}, nil
}

// Open opens dbPath and makes sure the schema exists.
func Open(dbPath string) (*Store, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.CreateSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateSchema creates all tables and indexes.
func (s *Store) CreateSchema() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// wrapErr maps missing-table errors to ErrNotInitialized.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
