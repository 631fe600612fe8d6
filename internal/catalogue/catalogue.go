// Package catalogue persists file/directory entries for one database file.
//
// Grounded on original_source/server/FileDB.cpp: same table shape, same
// insert-or-update/modified_time-diff semantics, same nested-transaction
// depth counter and prepared-statement cache, with delete_by_prefix added
// (spec.md §4.3) for pruning excluded subtrees and RMDIR events.
package catalogue

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/errs"
	"github.com/anything-indexer/anything/internal/logging"
)

var log = logging.For("catalogue")

const timeLayout = "2006-01-02T15:04:05"

// Entry is a file or directory known to the catalogue.
type Entry struct {
	ID               int64
	FilePath         string
	FileName         string
	ModifiedTime     string // ISO-8601 local time, YYYY-MM-DDTHH:MM:SS
	CreatedTime      string
	FileExtension    string
	MimeType         string
	IsDirectory      bool
	ParentDirectory  string
	LastScannedTime  string
	ScanCount        int
}

const schema = `
CREATE TABLE IF NOT EXISTS file_info (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	modified_time TEXT,
	created_time TEXT,
	file_extension TEXT,
	mime_type TEXT,
	is_directory INTEGER,
	parent_directory TEXT,
	last_scanned_time TEXT,
	scan_count INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_file_path ON file_info(file_path);
CREATE INDEX IF NOT EXISTS idx_file_name ON file_info(file_name);
CREATE INDEX IF NOT EXISTS idx_file_extension ON file_info(file_extension);
CREATE INDEX IF NOT EXISTS idx_mime_type ON file_info(mime_type);
CREATE INDEX IF NOT EXISTS idx_parent_directory ON file_info(parent_directory);
CREATE INDEX IF NOT EXISTS idx_is_directory ON file_info(is_directory);
`

// searchFields is the allow-list for Search's field argument.
var searchFields = map[string]bool{
	"file_name":        true,
	"file_path":        true,
	"file_extension":   true,
	"mime_type":        true,
	"parent_directory": true,
}

// Catalogue is the searchable table of file/directory entries for one
// database file. A Catalogue is not safe for concurrent use by multiple
// goroutines without the caller's own synchronization at a higher level;
// internally it serialises its own operations with one mutex per
// instance, matching the original's single operation_mutex_.
type Catalogue struct {
	pool   *dbpool.Pool
	path   string
	db     *sql.DB
	mu     sync.Mutex
	stmts  map[string]*sql.Stmt
	depth  int // nested transaction depth
	tx     *sql.Tx
	closed bool
}

// Open acquires the database at path and ensures the file_info table
// exists.
func Open(pool *dbpool.Pool, path string) (*Catalogue, error) {
	db, err := pool.Acquire(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		pool.Release(path)
		return nil, fmt.Errorf("catalogue: init schema %q: %w", path, err)
	}
	return &Catalogue{pool: pool, path: path, db: db, stmts: make(map[string]*sql.Stmt)}, nil
}

// Close finalises every cached prepared statement and releases the pooled
// connection. Safe to call more than once.
func (c *Catalogue) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for sqlText, stmt := range c.stmts {
		if err := stmt.Close(); err != nil {
			log.Printf("error finalizing prepared statement %q: %v", sqlText, err)
		}
	}
	c.stmts = nil
	c.pool.Release(c.path)
	return nil
}

// checkOpen reports errs.ErrClosed once Close has been called, so a
// Catalogue handed to a goroutine that outlives its Scanner fails loudly
// instead of operating on a connection the pool may have already reused.
// Must be called with c.mu held.
func (c *Catalogue) checkOpen() error {
	if c.closed {
		return errs.ErrClosed
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every
// operation below run against whichever is active.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// active returns the transaction to run against if one is open, or the raw
// connection otherwise. Must be called with c.mu held.
func (c *Catalogue) active() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// prepared returns a statement for sqlText valid against the catalogue's
// current state. Must be called with c.mu held.
//
// dbpool pins every handle to a single physical connection (see
// dbpool.Acquire), and a transaction holds that connection for its whole
// lifetime, so database/sql cannot hand c.db.Prepare a connection while
// c.tx is open — it would block forever waiting for a second connection
// the pool will never provide. When a transaction is open, prepared
// prepares directly against it (c.tx.Prepare reuses the transaction's own
// bound connection) and does not cache the result, since a tx-bound
// statement stops being valid the moment the transaction commits or rolls
// back. Outside a transaction, statements are cached against the raw
// *sql.DB and reused across calls, mirroring the original's
// prepared_statements_ map.
func (c *Catalogue) prepared(sqlText string) (*sql.Stmt, error) {
	if c.tx != nil {
		return c.tx.Prepare(sqlText)
	}
	if stmt, ok := c.stmts[sqlText]; ok {
		return stmt, nil
	}
	stmt, err := c.db.Prepare(sqlText)
	if err != nil {
		return nil, err
	}
	c.stmts[sqlText] = stmt
	return stmt, nil
}

// execPrepared runs sqlText (binding args positionally) through the
// statement cache, using the active transaction if one is open.
func (c *Catalogue) execPrepared(sqlText string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	stmt, err := c.prepared(sqlText)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(args...)
}

// Begin opens a catalogue transaction. Nested calls only start a real
// transaction at depth 1; every call increments depth.
func (c *Catalogue) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.depth == 0 {
		tx, err := c.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin transaction: %v", errs.ErrPersistence, err)
		}
		c.tx = tx
	}
	c.depth++
	return nil
}

// Commit decrements the nesting depth and only commits the real
// transaction at depth 0.
func (c *Catalogue) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth == 0 {
		return fmt.Errorf("%w: commit without matching begin", errs.ErrPersistence)
	}
	c.depth--
	if c.depth == 0 {
		tx := c.tx
		c.tx = nil
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit transaction: %v", errs.ErrPersistence, err)
		}
	}
	return nil
}

// Rollback unconditionally rolls back the real transaction (if any) and
// resets nesting depth to zero, discarding all nested intent.
func (c *Catalogue) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = 0
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("%w: rollback transaction: %v", errs.ErrPersistence, err)
	}
	return nil
}

// InsertOrUpdate inserts entry if file_path is unseen. If the path is
// already known, it updates every non-empty field plus is_directory and
// bumps scan_count only when modified_time differs; otherwise it is a
// no-op that still succeeds (idempotent per spec.md invariant 2).
func (c *Catalogue) InsertOrUpdate(entry Entry) error {
	existing, err := c.Get(entry.FilePath)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	now := time.Now().Format(timeLayout)

	if existing == nil {
		_, err := c.execPrepared(
			`INSERT INTO file_info (file_path, file_name, modified_time, created_time, file_extension, mime_type, is_directory, parent_directory, last_scanned_time, scan_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			entry.FilePath, entry.FileName, entry.ModifiedTime, entry.CreatedTime, entry.FileExtension, entry.MimeType, boolToInt(entry.IsDirectory), entry.ParentDirectory, now,
		)
		if err != nil {
			return fmt.Errorf("%w: insert %q: %v", errs.ErrPersistence, entry.FilePath, err)
		}
		return nil
	}

	if existing.ModifiedTime == entry.ModifiedTime {
		return nil
	}

	var sets []string
	var args []any
	if entry.FileName != "" {
		sets = append(sets, "file_name = ?")
		args = append(args, entry.FileName)
	}
	if entry.ModifiedTime != "" {
		sets = append(sets, "modified_time = ?")
		args = append(args, entry.ModifiedTime)
	}
	if entry.CreatedTime != "" {
		sets = append(sets, "created_time = ?")
		args = append(args, entry.CreatedTime)
	}
	if entry.FileExtension != "" {
		sets = append(sets, "file_extension = ?")
		args = append(args, entry.FileExtension)
	}
	if entry.MimeType != "" {
		sets = append(sets, "mime_type = ?")
		args = append(args, entry.MimeType)
	}
	sets = append(sets, "is_directory = ?")
	args = append(args, boolToInt(entry.IsDirectory))
	if entry.ParentDirectory != "" {
		sets = append(sets, "parent_directory = ?")
		args = append(args, entry.ParentDirectory)
	}
	sets = append(sets, "last_scanned_time = ?")
	args = append(args, now)
	sets = append(sets, "scan_count = scan_count + 1")

	sqlText := fmt.Sprintf("UPDATE file_info SET %s WHERE file_path = ?", strings.Join(sets, ", "))
	args = append(args, entry.FilePath)
	if _, err := c.execPrepared(sqlText, args...); err != nil {
		return fmt.Errorf("%w: update %q: %v", errs.ErrPersistence, entry.FilePath, err)
	}
	return nil
}

// Delete removes exactly the row at path. A missing row is not an error.
func (c *Catalogue) Delete(path string) error {
	if _, err := c.execPrepared(`DELETE FROM file_info WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("%w: delete %q: %v", errs.ErrPersistence, path, err)
	}
	return nil
}

// DeleteByParent removes every row whose parent_directory is path, plus
// the row equal to path itself.
func (c *Catalogue) DeleteByParent(path string) error {
	if _, err := c.execPrepared(`DELETE FROM file_info WHERE parent_directory = ? OR file_path = ?`, path, path); err != nil {
		return fmt.Errorf("%w: delete by parent %q: %v", errs.ErrPersistence, path, err)
	}
	return nil
}

// DeleteByPrefix removes every row whose file_path starts with path
// followed by "/" , plus the row equal to path. Used when an entire
// subtree is pruned (excluded directories, RMDIR events).
func (c *Catalogue) DeleteByPrefix(path string) error {
	prefix := escapeLike(path) + "/%"
	if _, err := c.execPrepared(
		`DELETE FROM file_info WHERE file_path = ? OR file_path LIKE ? ESCAPE '\'`,
		path, prefix,
	); err != nil {
		return fmt.Errorf("%w: delete by prefix %q: %v", errs.ErrPersistence, path, err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Get returns the entry at path, or errs.ErrNotFound.
func (c *Catalogue) Get(path string) (*Entry, error) {
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	stmt, err := c.prepared(`SELECT id, file_path, file_name, modified_time, created_time, file_extension, mime_type, is_directory, parent_directory, last_scanned_time, scan_count FROM file_info WHERE file_path = ?`)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: prepare get: %v", errs.ErrPersistence, err)
	}
	row := stmt.QueryRow(path)
	c.mu.Unlock()

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %q: %v", errs.ErrPersistence, path, err)
	}
	return e, nil
}

// Exists reports whether path is currently catalogued.
func (c *Catalogue) Exists(path string) (bool, error) {
	_, err := c.Get(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Children returns all entries whose parent_directory equals path.
func (c *Catalogue) Children(path string) ([]*Entry, error) {
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	rows, err := c.active().Query(`SELECT id, file_path, file_name, modified_time, created_time, file_extension, mime_type, is_directory, parent_directory, last_scanned_time, scan_count FROM file_info WHERE parent_directory = ?`, path)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: children of %q: %v", errs.ErrPersistence, path, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan children row: %v", errs.ErrPersistence, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Search performs a case-sensitive substring (SQL LIKE) match of term
// against field, which must be one of the fixed allow-list
// (file_name, file_path, file_extension, mime_type, parent_directory).
// Results are ordered by file_path and capped at limit; limit <= 0 means
// unbounded.
func (c *Catalogue) Search(term, field string, limit int) ([]*Entry, error) {
	if !searchFields[field] {
		return nil, fmt.Errorf("%w: invalid search field %q", errs.ErrValidation, field)
	}

	sqlText := fmt.Sprintf("SELECT id, file_path, file_name, modified_time, created_time, file_extension, mime_type, is_directory, parent_directory, last_scanned_time, scan_count FROM file_info WHERE %s LIKE ? ESCAPE '\\' ORDER BY file_path", field)
	args := []any{"%" + escapeLike(term) + "%"}
	if limit > 0 {
		sqlText += " LIMIT ?"
		args = append(args, limit)
	}

	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	rows, err := c.active().Query(sqlText, args...)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: search %q on %q: %v", errs.ErrPersistence, term, field, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan search row: %v", errs.ErrPersistence, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BatchDelete removes every row whose file_path is in paths, in a single
// statement.
func (c *Catalogue) BatchDelete(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return err
	}
	_, err := c.active().Exec(fmt.Sprintf("DELETE FROM file_info WHERE file_path IN (%s)", placeholders), args...)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: batch delete: %v", errs.ErrPersistence, err)
	}
	return nil
}

// Stats reports total/directory/file counts.
type Stats struct {
	Total       int
	Directories int
	Files       int
}

func (c *Catalogue) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := c.active().QueryRow(`SELECT COUNT(*) FROM file_info`).Scan(&s.Total); err != nil {
		return Stats{}, fmt.Errorf("%w: stats total: %v", errs.ErrPersistence, err)
	}
	if err := c.active().QueryRow(`SELECT COUNT(*) FROM file_info WHERE is_directory = 1`).Scan(&s.Directories); err != nil {
		return Stats{}, fmt.Errorf("%w: stats directories: %v", errs.ErrPersistence, err)
	}
	s.Files = s.Total - s.Directories
	return s, nil
}

// Clear truncates the catalogue.
func (c *Catalogue) Clear() error {
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return err
	}
	_, err := c.active().Exec(`DELETE FROM file_info`)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: clear: %v", errs.ErrPersistence, err)
	}
	return nil
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var isDir int
	if err := row.Scan(&e.ID, &e.FilePath, &e.FileName, &e.ModifiedTime, &e.CreatedTime, &e.FileExtension, &e.MimeType, &isDir, &e.ParentDirectory, &e.LastScannedTime, &e.ScanCount); err != nil {
		return nil, err
	}
	e.IsDirectory = isDir != 0
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
