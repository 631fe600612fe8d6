// Package scantarget persists the list of roots a user wants indexed.
//
// Grounded on original_source/ScanObject.{h,cpp}: same table shape and
// defaulting rules, ported to idiomatic Go errors instead of bool+stderr.
package scantarget

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/errs"
	"github.com/anything-indexer/anything/internal/logging"
)

var log = logging.For("scantarget")

const timeLayout = "2006-01-02T15:04:05"

// Target is a root the user asked to index.
type Target struct {
	ID                     int64
	DirectoryPath          string
	DisplayName            string
	Description            string
	IsActive               bool
	IsRecursive            bool
	LastSuccessfulScanTime time.Time // zero value means "never scanned"
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_targets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	directory_path TEXT NOT NULL UNIQUE,
	display_name TEXT,
	description TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	is_recursive INTEGER NOT NULL DEFAULT 1,
	last_successful_scan_time TEXT
);
CREATE INDEX IF NOT EXISTS idx_scan_targets_path ON scan_targets(directory_path);
CREATE INDEX IF NOT EXISTS idx_scan_targets_active ON scan_targets(is_active);
`

// Store is a scan-target-store client for one database file. Each Store
// holds its own shared (refcounted) *sql.DB handle from the pool; writes
// commit immediately and never participate in a Scanner's catalogue
// transactions.
type Store struct {
	pool   *dbpool.Pool
	path   string
	db     *sql.DB
	closed bool
}

// Open acquires (via pool) the database at path and ensures the
// scan_targets table exists.
func Open(pool *dbpool.Pool, path string) (*Store, error) {
	db, err := pool.Acquire(path)
	if err != nil {
		return nil, fmt.Errorf("scantarget: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		pool.Release(path)
		return nil, fmt.Errorf("scantarget: init schema %q: %w", path, err)
	}
	return &Store{pool: pool, path: path, db: db}, nil
}

// Close releases the pooled connection. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Release(s.path)
	return nil
}

// checkOpen reports errs.ErrClosed once Close has been called, so a Store
// handed out to a goroutine that outlives its Scanner fails loudly instead
// of querying a connection the pool may have already reused or closed.
func (s *Store) checkOpen() error {
	if s.closed {
		return errs.ErrClosed
	}
	return nil
}

// Add persists a new target. path is canonicalised to absolute before
// storage; name defaults to the basename. Fails with errs.ErrValidation
// if path does not exist or is not a directory, and with
// errs.ErrAlreadyExists on a duplicate path.
func (s *Store) Add(path, name, description string, recursive bool) (*Target, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path %q: %v", errs.ErrValidation, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %q does not exist", errs.ErrValidation, abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", errs.ErrValidation, abs)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	res, err := s.db.Exec(
		`INSERT INTO scan_targets (directory_path, display_name, description, is_recursive) VALUES (?, ?, ?, ?)`,
		abs, name, description, boolToInt(recursive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: scan target for %q", errs.ErrAlreadyExists, abs)
		}
		return nil, fmt.Errorf("%w: insert scan target: %v", errs.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: read inserted id: %v", errs.ErrPersistence, err)
	}

	log.Printf("scan target added: id=%d path=%s", id, abs)
	return &Target{
		ID:            id,
		DirectoryPath: abs,
		DisplayName:   name,
		Description:   description,
		IsActive:      true,
		IsRecursive:   recursive,
	}, nil
}

// Delete removes the target with id. Deleting a nonexistent id is not an
// error.
func (s *Store) Delete(id int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM scan_targets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete scan target %d: %v", errs.ErrPersistence, id, err)
	}
	return nil
}

// UpdateLastScanTime sets last_successful_scan_time to now for the target
// at path.
func (s *Store) UpdateLastScanTime(path string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: resolve path %q: %v", errs.ErrValidation, path, err)
	}
	now := time.Now().Format(timeLayout)
	if _, err := s.db.Exec(`UPDATE scan_targets SET last_successful_scan_time = ? WHERE directory_path = ?`, now, abs); err != nil {
		return fmt.Errorf("%w: update last scan time %q: %v", errs.ErrPersistence, abs, err)
	}
	return nil
}

// Get returns the target for path, or errs.ErrNotFound.
func (s *Store) Get(path string) (*Target, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path %q: %v", errs.ErrValidation, path, err)
	}
	return s.scanRow(s.db.QueryRow(selectCols+`WHERE directory_path = ?`, abs))
}

// GetByID returns the target with id, or errs.ErrNotFound.
func (s *Store) GetByID(id int64) (*Target, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.scanRow(s.db.QueryRow(selectCols+`WHERE id = ?`, id))
}

// Exists reports whether path is already tracked.
func (s *Store) Exists(path string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("%w: resolve path %q: %v", errs.ErrValidation, path, err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scan_targets WHERE directory_path = ?`, abs).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: check existence %q: %v", errs.ErrPersistence, abs, err)
	}
	return n > 0, nil
}

// List returns targets ordered by directory_path, optionally filtered to
// active-only.
func (s *Store) List(activeOnly bool) ([]*Target, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := selectCols
	if activeOnly {
		query += `WHERE is_active = 1 `
	}
	query += `ORDER BY directory_path`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("%w: list scan targets: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []*Target
	for rows.Next() {
		t, err := scanTargetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", errs.ErrPersistence, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const selectCols = `SELECT id, directory_path, display_name, description, is_active, is_recursive, last_successful_scan_time FROM scan_targets `

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRow(row rowScanner) (*Target, error) {
	t, err := scanTargetRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}
	return t, nil
}

func scanTargetRow(row rowScanner) (*Target, error) {
	var t Target
	var displayName, description, lastScan sql.NullString
	var isActive, isRecursive int
	if err := row.Scan(&t.ID, &t.DirectoryPath, &displayName, &description, &isActive, &isRecursive, &lastScan); err != nil {
		return nil, err
	}
	t.DisplayName = displayName.String
	t.Description = description.String
	t.IsActive = isActive != 0
	t.IsRecursive = isRecursive != 0
	if lastScan.Valid && lastScan.String != "" {
		if parsed, err := time.ParseInLocation(timeLayout, lastScan.String, time.Local); err == nil {
			t.LastSuccessfulScanTime = parsed
		}
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a plain error
	// whose text includes "UNIQUE constraint failed"; there is no typed
	// error in this driver to match on instead.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
