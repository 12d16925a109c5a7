package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/mattn/go-sqlite3"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// SQLiteStorage implements Store using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	retry  common.RetryOptions
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != MemoryDSN {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front so two writers
	// cannot both read the same entries and then race to save them.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
		retry:  common.DefaultRetryOptions(),
	}, nil
}

// Open creates the storage and applies migrations.
func Open(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	s, err := NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Get returns the value stored under key.
func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, classify(err))
	}
	return value, nil
}

// Update reads key, applies fn and writes the result in one immediate
// transaction. Busy databases are retried with backoff.
func (s *SQLiteStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: update function", ErrNilParameter)
	}

	return common.WithRetry(ctx, func() error {
		return s.update(ctx, key, fn)
	}, s.retry)
}

func (s *SQLiteStorage) update(ctx context.Context, key string, fn UpdateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current []byte
	scanErr := tx.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&current)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		return fmt.Errorf("failed to read key %s: %w", key, classify(scanErr))
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if next == nil {
		if _, err = tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, classify(err))
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, next, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to write key %s: %w", key, classify(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key %s: %w", key, classify(err))
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	return common.WithRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, classify(err))
		}
		return nil
	}, s.retry)
}

// RecordAttempt appends a match attempt to the log.
func (s *SQLiteStorage) RecordAttempt(ctx context.Context, a Attempt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAttempt(&a); err != nil {
		return err
	}

	return common.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO match_attempts
				(message_hash, template_hash, entry_id, sender_hint, origin, confidence, matched, should_train, attempted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.MessageHash, a.TemplateHash, a.EntryID, a.SenderHint, string(a.Origin), a.Confidence,
			a.Matched, a.ShouldTrain, a.AttemptedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to record attempt: %w", classify(err))
		}
		return nil
	}, s.retry)
}

// Attempts returns logged attempts within [since, until).
func (s *SQLiteStorage) Attempts(ctx context.Context, since, until time.Time) ([]Attempt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, message_hash, template_hash, entry_id, sender_hint, origin, confidence, matched, should_train, attempted_at
		FROM match_attempts`
	var where []string
	var args []any
	if !since.IsZero() {
		where = append(where, "attempted_at >= ?")
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		where = append(where, "attempted_at < ?")
		args = append(args, until.UTC())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY attempted_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var origin string
		if err := rows.Scan(&a.ID, &a.MessageHash, &a.TemplateHash, &a.EntryID, &a.SenderHint, &origin,
			&a.Confidence, &a.Matched, &a.ShouldTrain, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Origin = model.Origin(origin)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, nil
}

// classify marks SQLite lock contention as retryable.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrDatabaseBusy, err), Retryable: true}
	}
	return err
}
