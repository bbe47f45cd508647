package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBBatchPersistsData(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	batch := db1.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("b"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	_, err = db2.Get([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBoltDBBatchPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db1, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("stale"), []byte("x")))

	batch := db1.NewBatch()
	batch.Put([]byte("k"), []byte("v"))
	batch.Delete([]byte("stale"))
	require.NoError(t, batch.Write())
	db1.Close()

	db2, err := NewBoltDB(path, nil)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	_, err = db2.Get([]byte("stale"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestOverlayStagesUntilCommit(t *testing.T) {
	parent := NewMemDB()
	require.NoError(t, parent.Put([]byte("keep"), []byte("1")))
	require.NoError(t, parent.Put([]byte("drop"), []byte("2")))

	overlay := NewOverlay(parent)
	require.NoError(t, overlay.Put([]byte("new"), []byte("3")))
	require.NoError(t, overlay.Delete([]byte("drop")))

	got, err := overlay.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)
	_, err = overlay.Get([]byte("drop"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = parent.Get([]byte("new"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 2, overlay.Dirty())

	require.NoError(t, overlay.Commit())
	got, err = parent.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)
	_, err = parent.Get([]byte("drop"))
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, overlay.Put([]byte("late"), []byte("x")))
}

func TestOverlayDiscardLeavesParentUntouched(t *testing.T) {
	parent := NewMemDB()
	overlay := NewOverlay(parent)
	require.NoError(t, overlay.Put([]byte("k"), []byte("v")))
	overlay.Discard()

	require.Equal(t, 0, parent.Len())
	require.Error(t, overlay.Commit())
}

func TestNestedOverlayCollapsesIntoOuter(t *testing.T) {
	parent := NewMemDB()
	outer := NewOverlay(parent)
	inner := NewOverlay(outer)
	require.NoError(t, inner.Put([]byte("k"), []byte("v")))
	require.NoError(t, inner.Commit())

	_, err := parent.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	got, err := outer.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
