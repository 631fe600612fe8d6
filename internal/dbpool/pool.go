// Package dbpool is the process-wide registry of open catalogue databases.
//
// Every subsystem that needs a handle to a user's file_db.db goes through
// Acquire/Release here rather than calling sql.Open directly, so that two
// Scanners (or a Scanner and an HTTP request) addressing the same database
// file share one *sql.DB instead of racing to open the file twice.
package dbpool

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/anything-indexer/anything/internal/logging"
)

var log = logging.For("dbpool")

// pragmas applied exactly once, right after a database file is first
// opened by this process. Mirrors the original DBConnection constructor
// (WAL + synchronous=NORMAL + foreign_keys=ON) plus the cache/mmap/temp
// store tuning from FileDB::init_database. case_sensitive_like is added
// beyond the original's pragma list because SQLite's LIKE is
// case-insensitive for ASCII by default, and catalogue.Search (spec.md
// §4.3) requires case-sensitive substring matching.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA cache_size = -100000",
	"PRAGMA mmap_size = 268435456",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA case_sensitive_like = ON",
}

type handle struct {
	db       *sql.DB
	refcount int
}

// Pool maps an absolute database path to a single reference-counted
// *sql.DB. The zero value is not usable; construct with New.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*handle
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{conns: make(map[string]*handle)}
}

// defaultPool is the process-wide pool most callers should use; tests
// construct their own Pool with New() to avoid cross-test interference.
var defaultPool = New()

// Default returns the process-wide pool.
func Default() *Pool { return defaultPool }

// Acquire returns a shared *sql.DB for path, opening and pragma-tuning it
// if this is the first acquisition. Every successful Acquire must be
// matched by exactly one Release. An invalid open (bad path, unwritable
// directory) returns an error and leaves the pool unchanged.
func (p *Pool) Acquire(path string) (*sql.DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("dbpool: resolve path %q: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.conns[abs]; ok {
		h.refcount++
		return h.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("dbpool: create directory for %q: %w", abs, err)
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, errors.Wrapf(err, "dbpool: open %q", abs)
	}
	// SQLite connection-local pragmas (foreign_keys, cache_size, mmap_size,
	// temp_store, case_sensitive_like) must be reapplied on every new
	// physical connection, and database/sql gives no hook for that with
	// this driver. Pinning the pool to a single connection keeps every
	// pragma below in effect for the handle's whole lifetime and matches
	// the original DBManager's one-handle-per-file model (spec.md §4.1)
	// instead of database/sql's default multi-connection pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "dbpool: open %q", abs)
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "dbpool: apply pragma %q on %q", stmt, abs)
		}
	}

	p.conns[abs] = &handle{db: db, refcount: 1}
	log.Printf("connection opened: %s", abs)
	return db, nil
}

// Release decrements path's refcount, closing and removing the underlying
// *sql.DB once it reaches zero. Releasing a path that was never acquired
// (or has already hit zero) is a no-op.
func (p *Pool) Release(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.conns[abs]
	if !ok {
		return
	}
	h.refcount--
	if h.refcount > 0 {
		return
	}
	delete(p.conns, abs)
	if err := h.db.Close(); err != nil {
		log.Printf("error closing connection %s: %v", abs, err)
	} else {
		log.Printf("connection closed: %s", abs)
	}
}

// CloseAll force-closes every open connection regardless of refcount. Used
// on process shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, h := range p.conns {
		if err := h.db.Close(); err != nil {
			log.Printf("error closing connection %s: %v", path, err)
		}
	}
	p.conns = make(map[string]*handle)
}

// Len reports how many distinct database paths are currently open. Mainly
// useful in tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
