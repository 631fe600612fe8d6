package scantarget_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/errs"
	"github.com/anything-indexer/anything/internal/scantarget"
)

func openTestStore(t *testing.T) *scantarget.Store {
	t.Helper()
	pool := dbpool.New()
	dbPath := filepath.Join(t.TempDir(), "file_db.db")
	store, err := scantarget.Open(pool, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddRejectsNonDirectory(t *testing.T) {
	store := openTestStore(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := store.Add(file, "", "", true)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestAddRejectsDuplicatePath(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()

	_, err := store.Add(dir, "", "first add", true)
	require.NoError(t, err)

	_, err = store.Add(dir, "", "second add", true)
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestAddDefaultsDisplayNameToBasename(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()

	target, err := store.Add(dir, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), target.DisplayName)
	assert.True(t, target.IsActive)
}

func TestGetByIDNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetByID(99999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListOmitsDeletedTarget(t *testing.T) {
	store := openTestStore(t)
	dirA := t.TempDir()
	dirB := t.TempDir()

	targetA, err := store.Add(dirA, "", "", true)
	require.NoError(t, err)
	_, err = store.Add(dirB, "", "", true)
	require.NoError(t, err)

	require.NoError(t, store.Delete(targetA.ID))

	all, err := store.List(false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	active, err := store.List(true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUpdateLastScanTimeAndExists(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()

	_, err := store.Add(dir, "", "", true)
	require.NoError(t, err)

	exists, err := store.Exists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.UpdateLastScanTime(dir))

	target, err := store.Get(dir)
	require.NoError(t, err)
	assert.False(t, target.LastSuccessfulScanTime.IsZero())
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()

	require.NoError(t, store.Close())
	// A second Close is a no-op, not an error.
	assert.NoError(t, store.Close())

	_, err := store.Add(dir, "", "", true)
	assert.ErrorIs(t, err, errs.ErrClosed)

	assert.ErrorIs(t, store.Delete(1), errs.ErrClosed)
	assert.ErrorIs(t, store.UpdateLastScanTime(dir), errs.ErrClosed)

	_, err = store.Get(dir)
	assert.ErrorIs(t, err, errs.ErrClosed)

	_, err = store.GetByID(1)
	assert.ErrorIs(t, err, errs.ErrClosed)

	_, err = store.Exists(dir)
	assert.ErrorIs(t, err, errs.ErrClosed)

	_, err = store.List(false)
	assert.ErrorIs(t, err, errs.ErrClosed)
}
