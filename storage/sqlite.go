package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections for threat and notification
// persistence. Separate read and write pools leverage WAL mode's concurrent
// read capability: the write pool is capped at a single connection because
// WAL allows only one writer at a time.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// validateDBPath rejects paths that escape the working directory unless they
// are absolute paths the operator chose explicitly.
func validateDBPath(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("database path must not contain parent directory references: %s", dbPath)
	}
	return nil
}

// configureConnection applies the pragmas every pool needs: WAL mode for
// crash recovery and concurrent reads, foreign keys (off by default in
// SQLite), and a busy timeout so writers under contention back off instead
// of failing immediately.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %q)", journalMode)
	}
	return nil
}

// NewSQLite opens the database at dbPath, creating parent directories as
// needed, and configures the read and write pools.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDBPath(dbPath); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("write pool: %w", err)
	}

	// An in-memory database is private to its connection, so the read pool
	// must share the write connection or it would see an empty schema.
	readDB := writeDB
	if dbPath != ":memory:" {
		readDB, err = sql.Open("sqlite", dbPath)
		if err != nil {
			_ = writeDB.Close()
			return nil, fmt.Errorf("failed to open sqlite read pool: %w", err)
		}
		readDB.SetMaxOpenConns(10)
		readDB.SetMaxIdleConns(5)
		readDB.SetConnMaxIdleTime(5 * time.Minute)
		if err := configureConnection(readDB, dbPath); err != nil {
			_ = writeDB.Close()
			_ = readDB.Close()
			return nil, fmt.Errorf("read pool: %w", err)
		}
	}

	logger.Infow("Opened SQLite database", "path", dbPath)
	return &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}, nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if s.ReadDB != s.WriteDB {
		if err := s.ReadDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
