// Package scanner implements the per-root Directory Scanner: full
// recursive scans with symlink-cycle protection, live-update handling,
// and the containment predicate used by the registry to dispatch
// external change events.
//
// Grounded on original_source/server/FileScanner.cpp.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/anything-indexer/anything/internal/catalogue"
	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/errs"
	"github.com/anything-indexer/anything/internal/logging"
	"github.com/anything-indexer/anything/internal/scantarget"
)

// ChangeKind enumerates the four live-update event kinds spec.md §4.4
// defines for Scanner.OnChange.
type ChangeKind string

const (
	Create ChangeKind = "CREATE"
	Mkdir  ChangeKind = "MKDIR"
	Delete ChangeKind = "DELETE"
	Rmdir  ChangeKind = "RMDIR"
)

// Config configures one Scanner instance.
type Config struct {
	Root             string   // will be canonicalised to an absolute path
	CataloguePath    string
	ExcludedPatterns []string // defaults to DefaultExcludedPatterns if nil
	UseLocalWatcher  bool     // [ADD] start an fsnotify fallback watcher
}

// Scanner performs full recursive scans of one root and keeps the
// catalogue in sync with live filesystem changes for paths within that
// root.
type Scanner struct {
	root             string
	excludedPatterns []string
	useLocalWatcher  bool

	pool    *dbpool.Pool
	cat     *catalogue.Catalogue
	targets *scantarget.Store

	watching bool
	fsWatch  *localWatcher

	log *logging.Logger
}

// New constructs a Scanner for cfg, acquiring its catalogue and
// scan-target-store handles from pool. The caller owns the returned
// Scanner's lifetime and must call Close.
func New(pool *dbpool.Pool, cfg Config) (*Scanner, error) {
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root %q: %v", errs.ErrValidation, cfg.Root, err)
	}
	patterns := cfg.ExcludedPatterns
	if patterns == nil {
		patterns = DefaultExcludedPatterns
	}

	cat, err := catalogue.Open(pool, cfg.CataloguePath)
	if err != nil {
		return nil, err
	}
	targets, err := scantarget.Open(pool, cfg.CataloguePath)
	if err != nil {
		cat.Close()
		return nil, err
	}

	return &Scanner{
		root:             abs,
		excludedPatterns: patterns,
		useLocalWatcher:  cfg.UseLocalWatcher,
		pool:             pool,
		cat:              cat,
		targets:          targets,
		log:              logging.For("scanner"),
	}, nil
}

// Root returns the scanner's canonical root path.
func (s *Scanner) Root() string { return s.root }

// Covers reports whether path lies under this scanner's root — the
// containment predicate the registry uses to dispatch external events.
func (s *Scanner) Covers(path string) bool {
	if path == s.root {
		return true
	}
	return strings.HasPrefix(path, s.root+string(filepath.Separator))
}

// Run performs the initial full scan and then, if configured, starts the
// local fsnotify fallback watcher. Go equivalent of FileScanner::run().
func (s *Scanner) Run() error {
	if err := s.FullScan(); err != nil {
		return err
	}
	s.watching = true
	if s.useLocalWatcher {
		w, err := newLocalWatcher(s)
		if err != nil {
			// Per spec.md §7, watcher failures do not bring the scanner
			// down. Changes on disk then reach the catalogue only through
			// audit events or a later FullScan; Run does not repeat the
			// scan on its own.
			s.log.Printf("root=%s: local watcher unavailable, relying on audit events and full rescans: %v", s.root, err)
		} else {
			s.fsWatch = w
		}
	}
	return nil
}

// Close stops the watcher and releases the catalogue and scan-target
// store (dropping pool refcounts).
func (s *Scanner) Close() error {
	s.watching = false
	if s.fsWatch != nil {
		s.fsWatch.stop()
		s.fsWatch = nil
	}
	s.cat.Close()
	s.targets.Close()
	return nil
}

// shouldRescan implements the rescan gate from spec.md §4.4: create the
// ScanTarget if missing, skip if inactive, otherwise proceed.
func (s *Scanner) shouldRescan() (bool, error) {
	target, err := s.targets.Get(s.root)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			if _, addErr := s.targets.Add(s.root, filepath.Base(s.root), "", true); addErr != nil {
				return false, addErr
			}
			return true, nil
		}
		return false, err
	}
	if !target.IsActive {
		return false, nil
	}
	return true, nil
}

// FullScan performs one full recursive scan of the root: symlink-cycle
// detection, transactional reconciliation of the whole tree, and
// last-successful-scan-time bookkeeping. Grounded on
// FileScanner::scan_directory / scan_directory_recursive.
func (s *Scanner) FullScan() error {
	rescan, err := s.shouldRescan()
	if err != nil {
		return err
	}
	if !rescan {
		return nil
	}

	visited := make(map[string]struct{}) // scoped to this call only (design note §9)

	if err := s.cat.Begin(); err != nil {
		return err
	}

	if err := s.walk(s.root, visited); err != nil {
		s.cat.Rollback()
		return err
	}

	if err := s.cat.Commit(); err != nil {
		return err
	}
	if err := s.targets.UpdateLastScanTime(s.root); err != nil {
		return err
	}
	return nil
}

// walk recurses from dir, mirroring scan_directory_recursive. A failure
// at the root level (dir == s.root) propagates to abort-with-rollback;
// failures deeper in the tree are logged and do not stop sibling
// traversal, matching the original's "continue scanning other
// directories" behavior.
func (s *Scanner) walk(dir string, visited map[string]struct{}) error {
	canon, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if dir == s.root {
			return fmt.Errorf("%w: resolve root %q: %v", errs.ErrPersistence, dir, err)
		}
		s.log.Printf("root=%s: cannot resolve canonical path %s, skipping: %v", s.root, dir, err)
		return nil
	}
	if _, ok := visited[canon]; ok {
		// Symlink cycle: not an error, just stop descending (spec.md §7).
		return nil
	}
	visited[canon] = struct{}{}

	if err := s.reconcileDirectory(dir); err != nil {
		if dir == s.root {
			return err
		}
		s.log.Printf("root=%s: directory reconciliation failed for %s, continuing siblings: %v", s.root, dir, err)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil
		}
		if dir == s.root {
			return fmt.Errorf("%w: read dir %q: %v", errs.ErrPersistence, dir, err)
		}
		s.log.Printf("root=%s: cannot read directory %s, skipping: %v", s.root, dir, err)
		return nil
	}

	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())

		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			// std::filesystem::directory_entry::is_directory() follows the
			// symlink to decide; os.DirEntry.IsDir() does not, so resolve it
			// ourselves. A broken symlink is simply skipped. Cycle
			// termination happens at the top of walk() via EvalSymlinks +
			// visited, not here.
			target, err := os.Stat(childPath)
			if err != nil {
				continue
			}
			isDir = target.IsDir()
		}
		if !isDir {
			continue
		}
		if isExcluded(entry.Name(), s.excludedPatterns) {
			continue
		}
		if err := s.walk(childPath, visited); err != nil {
			return err
		}
	}
	return nil
}

// reconcileDirectory reconciles one directory level: upserts dir itself
// and its immediate children, prunes rows for paths that vanished, and
// retroactively prunes any previously-indexed content of a directory that
// has since become excluded. Grounded on scan_single_directory.
func (s *Scanner) reconcileDirectory(dir string) error {
	existing, err := s.cat.Children(dir)
	if err != nil {
		return err
	}
	existingByPath := make(map[string]*catalogue.Entry, len(existing))
	for _, e := range existing {
		existingByPath[e.FilePath] = e
	}

	if dirEntry, err := s.buildEntry(dir, true); err == nil {
		if err := s.cat.InsertOrUpdate(*dirEntry); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{})

	children, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return fmt.Errorf("%w: read dir %q: %v", errs.ErrPersistence, dir, err)
	}

	for _, child := range children {
		childPath := filepath.Join(dir, child.Name())

		// os.Stat follows symlinks, matching entry.is_directory() /
		// entry.is_regular_file() in the original scanner, so a symlink to a
		// directory is catalogued as a directory rather than a file.
		info, err := os.Stat(childPath)
		if err != nil {
			s.log.Printf("root=%s: unreadable entry %s, skipping: %v", s.root, childPath, err)
			continue
		}

		if info.IsDir() {
			if isExcluded(child.Name(), s.excludedPatterns) {
				if exists, _ := s.cat.Exists(childPath); exists {
					if err := s.cat.DeleteByPrefix(childPath); err != nil {
						return err
					}
					if err := s.cat.Delete(childPath); err != nil {
						return err
					}
				}
				continue
			}
			// Catalogue the child directory itself here, not only when
			// walk() later recurses into it: a symlink that terminates a
			// cycle is never recursed into (walk returns early once its
			// canonical target is already visited), but it must still show
			// up as an indexed directory.
			if dirEntry, err := s.buildEntryFromInfo(childPath, info, true); err == nil {
				if err := s.cat.InsertOrUpdate(*dirEntry); err != nil {
					return err
				}
			}
			seen[childPath] = struct{}{}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}
		entry, err := s.buildEntryFromInfo(childPath, info, false)
		if err != nil {
			continue
		}
		if err := s.cat.InsertOrUpdate(*entry); err != nil {
			return err
		}
		seen[childPath] = struct{}{}
	}

	for path := range existingByPath {
		if _, ok := seen[path]; !ok {
			if err := s.cat.Delete(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) buildEntry(path string, isDir bool) (*catalogue.Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return s.buildEntryFromInfo(path, info, isDir)
}

func (s *Scanner) buildEntryFromInfo(path string, info fs.FileInfo, isDir bool) (*catalogue.Entry, error) {
	ts := info.ModTime().Local().Format("2006-01-02T15:04:05")
	e := &catalogue.Entry{
		FilePath:        path,
		FileName:        filepath.Base(path),
		ModifiedTime:    ts,
		CreatedTime:     ts,
		IsDirectory:     isDir,
		ParentDirectory: filepath.Dir(path),
	}
	if isDir {
		e.FileExtension = ""
		e.MimeType = directoryMimeType
	} else {
		e.FileExtension = filepath.Ext(path)
		e.MimeType = mimeTypeForExtension(e.FileExtension)
	}
	return e, nil
}

// OnChange applies one live-update event, from either delivery path
// described in SPEC_FULL.md §4.5 (the HTTP audit bridge or the local
// fsnotify fallback). Returns false without effect if the scanner's
// watcher flag is not set. Errors are logged and swallowed (spec.md §7);
// an event that failed is reconciled only by a later FullScan of the
// root, which this package runs once per Run and never on a timer.
func (s *Scanner) OnChange(path string, kind ChangeKind) bool {
	if !s.watching {
		return false
	}

	switch kind {
	case Create:
		if !ancestorExcluded(path, s.excludedPatterns) {
			if entry, err := s.buildEntry(path, false); err == nil {
				if err := s.cat.InsertOrUpdate(*entry); err != nil {
					s.log.Printf("root=%s: live create upsert failed for %s: %v", s.root, path, err)
				}
			}
		}
	case Mkdir:
		if !ancestorExcluded(path, s.excludedPatterns) && !isExcluded(filepath.Base(path), s.excludedPatterns) {
			if entry, err := s.buildEntry(path, true); err == nil {
				if err := s.cat.InsertOrUpdate(*entry); err != nil {
					s.log.Printf("root=%s: live mkdir upsert failed for %s: %v", s.root, path, err)
				}
			}
		}
	case Delete:
		if err := s.cat.Delete(path); err != nil {
			s.log.Printf("root=%s: live delete failed for %s: %v", s.root, path, err)
		}
	case Rmdir:
		if err := s.cat.DeleteByPrefix(path); err != nil {
			s.log.Printf("root=%s: live rmdir failed for %s: %v", s.root, path, err)
		}
	}
	return true
}

// Search delegates to the underlying catalogue; exposed here so
// consumers who only hold a Scanner (not a raw Catalogue) can still
// query, matching how the original wires FileDB behind FileScanner.
func (s *Scanner) Search(term, field string, limit int) ([]*catalogue.Entry, error) {
	return s.cat.Search(term, field, limit)
}

// Stats delegates to the underlying catalogue.
func (s *Scanner) Stats() (catalogue.Stats, error) {
	return s.cat.Stats()
}
