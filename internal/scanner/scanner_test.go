package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/scanner"
)

func newTestScanner(t *testing.T, root string, excluded []string) *scanner.Scanner {
	t.Helper()
	pool := dbpool.New()
	dbPath := filepath.Join(t.TempDir(), "file_db.db")
	s, err := scanner.New(pool, scanner.Config{
		Root:             root,
		CataloguePath:    dbPath,
		ExcludedPatterns: excluded,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario S1: a fresh full scan indexes every file and directory under root.
func TestFullScanIndexesSmallTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.md"), []byte("b"), 0o644))

	s := newTestScanner(t, root, nil)
	require.NoError(t, s.Run())

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Directories) // root + sub
	assert.Equal(t, 2, stats.Files)       // a.txt + b.md

	// "b" is a substring of both "sub" and "b.md"; results are ordered by
	// file_path.
	results, err := s.Search("b", "file_name", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(root, "sub"), results[0].FilePath)
	assert.Equal(t, filepath.Join(root, "sub", "b.md"), results[1].FilePath)
}

// Scenario S4: an excluded directory is never indexed, and content
// catalogued before a directory becomes excluded is retroactively pruned
// on the next full scan against the same catalogue.
func TestFullScanExcludesAndRetroactivelyPrunes(t *testing.T) {
	root := t.TempDir()
	nodeModules := filepath.Join(root, "node_modules")
	require.NoError(t, os.MkdirAll(nodeModules, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nodeModules, "pkg.json"), []byte("{}"), 0o644))

	pool := dbpool.New()
	dbPath := filepath.Join(t.TempDir(), "file_db.db")

	// First scan with no exclusions: node_modules gets catalogued.
	s, err := scanner.New(pool, scanner.Config{Root: root, CataloguePath: dbPath, ExcludedPatterns: []string{}})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Directories)
	assert.Equal(t, 1, stats.Files)
	require.NoError(t, s.Close())

	// Reopen against the same catalogue with node_modules now excluded: its
	// previously-indexed rows must be retroactively pruned.
	s2, err := scanner.New(pool, scanner.Config{Root: root, CataloguePath: dbPath, ExcludedPatterns: []string{"node_modules"}})
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })
	require.NoError(t, s2.FullScan())
	stats2, err := s2.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats2.Directories)
	assert.Equal(t, 0, stats2.Files)
}

// Invariant 8 / scenario S6: a directory symlink cycle (loop -> parent)
// terminates and indexes the target exactly once, without following the
// cycle forever.
func TestFullScanTerminatesOnSymlinkCycle(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Skipf("symlinks unsupported on this filesystem: %v", err)
	}

	s := newTestScanner(t, root, nil)
	require.NoError(t, s.Run())

	stats, err := s.Stats()
	require.NoError(t, err)
	// root + loop (the symlink itself, catalogued once as a directory); no
	// duplicate descendants from following the cycle.
	assert.Equal(t, 2, stats.Directories)
	assert.Equal(t, 1, stats.Files)
}

// A directory symlink that does NOT form a cycle is still followed and
// its contents indexed, matching FileScanner.cpp's is_directory()
// following symlinks.
func TestFullScanFollowsNonCyclicDirectorySymlink(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link")))

	s := newTestScanner(t, root, nil)
	require.NoError(t, s.Run())

	results, err := s.Search("c", "file_name", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(root, "link", "c.txt"), results[0].FilePath)
}

// Covers is the containment predicate the registry dispatches live events
// through.
func TestCoversPrefixContainment(t *testing.T) {
	root := t.TempDir()
	s := newTestScanner(t, root, nil)

	assert.True(t, s.Covers(root))
	assert.True(t, s.Covers(filepath.Join(root, "a", "b.txt")))
	assert.False(t, s.Covers(root+"-sibling"))
	assert.False(t, s.Covers(filepath.Dir(root)))
}

// OnChange before Run/FullScan (i.e. before watching begins) is a no-op,
// matching spec.md §4.5's requirement that live events are only applied
// once the initial full scan has established a baseline.
func TestOnChangeNoopBeforeRun(t *testing.T) {
	root := t.TempDir()
	s := newTestScanner(t, root, nil)

	applied := s.OnChange(filepath.Join(root, "new.txt"), scanner.Create)
	assert.False(t, applied)
}

// OnChange applies CREATE/DELETE live events against the catalogue once
// watching has started.
func TestOnChangeCreateAndDelete(t *testing.T) {
	root := t.TempDir()
	s := newTestScanner(t, root, nil)
	require.NoError(t, s.Run())

	newFile := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(newFile, []byte("x"), 0o644))
	assert.True(t, s.OnChange(newFile, scanner.Create))

	results, err := s.Search("new", "file_name", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, s.OnChange(newFile, scanner.Delete))
	results, err = s.Search("new", "file_name", 10)
	require.NoError(t, err)
	assert.Len(t, results, 0)
}
