package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anything-indexer/anything/internal/catalogue"
	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	pool := dbpool.New()
	reg := registry.New(pool, registry.Options{ExcludedPatterns: []string{}})
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestAddTargetStartsScannerAndIndexesImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	baseDir := t.TempDir()
	uid := filepath.Join(baseDir, "alice")
	require.NoError(t, os.MkdirAll(uid, 0o755))
	dbPath := filepath.Join(uid, "file_db.db")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	target, err := reg.AddTarget(dbPath, dir, "my docs")
	require.NoError(t, err)
	assert.Equal(t, dir, target.DirectoryPath)

	cat, err := catalogue.Open(reg.Pool(), dbPath)
	require.NoError(t, err)
	defer cat.Close()

	results, err := cat.Search("a.txt", "file_name", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRemoveTargetStopsScannerAndDeletesRow(t *testing.T) {
	reg := newTestRegistry(t)
	dbPath := filepath.Join(t.TempDir(), "file_db.db")
	dir := t.TempDir()

	target, err := reg.AddTarget(dbPath, dir, "")
	require.NoError(t, err)

	require.NoError(t, reg.RemoveTarget(dbPath, target.ID))

	// A second remove for the same id must fail: the row is gone.
	err = reg.RemoveTarget(dbPath, target.ID)
	assert.Error(t, err)
}

func TestBootstrapStartsScannersForEveryActiveTarget(t *testing.T) {
	baseDir := t.TempDir()
	userDir := filepath.Join(baseDir, "bob")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	dbPath := filepath.Join(userDir, "file_db.db")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	pool := dbpool.New()
	seed := registry.New(pool, registry.Options{ExcludedPatterns: []string{}})
	_, err := seed.AddTarget(dbPath, dir, "")
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	reg := registry.New(pool, registry.Options{ExcludedPatterns: []string{}})
	t.Cleanup(func() { reg.Close() })
	require.NoError(t, reg.Bootstrap(baseDir))

	cat, err := catalogue.Open(reg.Pool(), dbPath)
	require.NoError(t, err)
	defer cat.Close()
	results, err := cat.Search("a.txt", "file_name", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// Invariant 5: two scanners with disjoint roots never touch each other's
// catalogue rows — OnFileChange dispatches only to scanners whose root
// covers the changed path.
func TestOnFileChangeDispatchesOnlyToCoveringScanner(t *testing.T) {
	reg := newTestRegistry(t)
	dbPath := filepath.Join(t.TempDir(), "file_db.db")

	rootA := t.TempDir()
	rootB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "b.txt"), []byte("b"), 0o644))

	_, err := reg.AddTarget(dbPath, rootA, "")
	require.NoError(t, err)
	_, err = reg.AddTarget(dbPath, rootB, "")
	require.NoError(t, err)

	newFileA := filepath.Join(rootA, "new_in_a.txt")
	require.NoError(t, os.WriteFile(newFileA, []byte("x"), 0o644))
	reg.OnFileChange(newFileA, registry.Create)

	cat, err := catalogue.Open(reg.Pool(), dbPath)
	require.NoError(t, err)
	defer cat.Close()

	results, err := cat.Search("new_in_a", "file_name", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, newFileA, results[0].FilePath)

	// rootB's tree is untouched: no row for a path under rootB named after
	// the event we dispatched against rootA.
	bResults, err := cat.Search("new_in_a", "file_path", 10)
	require.NoError(t, err)
	for _, r := range bResults {
		assert.NotContains(t, r.FilePath, rootB)
	}
}

func TestAddTargetRejectsDuplicateDbAndRoot(t *testing.T) {
	reg := newTestRegistry(t)
	dbPath := filepath.Join(t.TempDir(), "file_db.db")
	dir := t.TempDir()

	_, err := reg.AddTarget(dbPath, dir, "first")
	require.NoError(t, err)

	// Adding the identical directory again is rejected by the scan-target
	// store's uniqueness constraint; the already-running scanner for that
	// key is left untouched.
	_, err = reg.AddTarget(dbPath, dir, "second")
	assert.Error(t, err)
}
