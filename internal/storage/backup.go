package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
)

// MaxBackups is the number of automatic backups kept per database.
const MaxBackups = 5

// ErrBackupUnavailable is returned for databases that have no file to back up.
var ErrBackupUnavailable = errors.New("backup unavailable")

// BackupInfo describes one backup file.
type BackupInfo struct {
	CreatedAt time.Time `json:"createdAt"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// BackupDir returns the directory holding backups of the database.
func (s *SQLiteStorage) BackupDir() string {
	return filepath.Join(filepath.Dir(s.dbPath), "backups")
}

// Backup copies the database to the backup directory before a destructive
// operation named by reason, then prunes older backups beyond MaxBackups.
func (s *SQLiteStorage) Backup(ctx context.Context, reason string) (*BackupInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if s.dbPath == MemoryDSN {
		return nil, ErrBackupUnavailable
	}
	if err := validateString(reason, "reason"); err != nil {
		return nil, err
	}

	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now()
	dest, err := s.backupPath(dir, reason, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	// VACUUM INTO takes the path as a bound parameter.
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}
	if err := verifyIntegrity(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}
	info := &BackupInfo{Path: dest, CreatedAt: now, Size: stat.Size()}
	slog.Info("Backed up database", "path", dest, "reason", reason, "size", info.Size)

	if err := s.pruneBackups(); err != nil {
		slog.Warn("Failed to prune old backups", "error", err)
	}
	return info, nil
}

// backupPath returns an unused absolute path for a backup taken at now.
func (s *SQLiteStorage) backupPath(dir, reason string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s-%s-%s", strings.TrimSuffix(filepath.Base(s.dbPath), filepath.Ext(s.dbPath)),
		sanitizeReason(reason), now.Format("20060102-150405.000"))
	for i := 0; ; i++ {
		name := base + ".db"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.db", base, i)
		}
		path, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to resolve backup path: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
	}
}

// Backups lists the backups of the database, newest first.
func (s *SQLiteStorage) Backups() ([]BackupInfo, error) {
	if s.dbPath == MemoryDSN {
		return nil, nil
	}
	dir := s.BackupDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	prefix := strings.TrimSuffix(filepath.Base(s.dbPath), filepath.Ext(s.dbPath)) + "-"
	var backups []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(dir, e.Name()),
			CreatedAt: fi.ModTime(),
			Size:      fi.Size(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Path > backups[j].Path
	})
	return backups, nil
}

func (s *SQLiteStorage) pruneBackups() error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	var errs []error
	for i := MaxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("Removed old backup", "path", backups[i].Path)
	}
	return errors.Join(errs...)
}

func verifyIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close backup", "error", err)
		}
	}()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check backup integrity: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: backup integrity check: %s", common.ErrDatabaseCorrupted, result)
	}
	return nil
}

func sanitizeReason(reason string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(reason))
}
