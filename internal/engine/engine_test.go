package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bkidx/internal/builder"
)

func buildTestIndex(t *testing.T, csv string) string {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	idxPath := filepath.Join(dir, "books.idx")
	_, err := builder.Build(csvPath, idxPath)
	require.NoError(t, err)
	return idxPath
}

func TestLookupFoundAndNotFound(t *testing.T) {
	csv := "id,title\n1,a\n1001,b\n2001,c\n"
	idxPath := buildTestIndex(t, csv)

	e, err := Open(idxPath)
	require.NoError(t, err)
	defer e.Close()

	off, found, err := e.Lookup(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(len("id,title\n")), off)

	_, found, err = e.Lookup(99999999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertThenLookup(t *testing.T) {
	csv := "id,title\n1,a\n"
	idxPath := buildTestIndex(t, csv)

	e, err := Open(idxPath)
	require.NoError(t, err)
	defer e.Close()

	e.WriterLock()
	err = e.Insert(42, 1234)
	e.WriterUnlock()
	require.NoError(t, err)

	off, found, err := e.Lookup(42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1234), off)

	// Original entry is still reachable.
	_, found, err = e.Lookup(1)
	require.NoError(t, err)
	require.True(t, found)
}

func TestInsertPreservesBucketSortOrder(t *testing.T) {
	csv := "id,title\n1,a\n1001,b\n"
	idxPath := buildTestIndex(t, csv)

	e, err := Open(idxPath)
	require.NoError(t, err)
	defer e.Close()

	// 1, 1001 and 2001 all hash to bucket 761, so they share one bucket
	// body; each is found by binary search only if that body stays sorted.
	e.WriterLock()
	err = e.Insert(2001, 5555)
	e.WriterUnlock()
	require.NoError(t, err)

	for _, id := range []uint64{1, 1001, 2001} {
		_, found, err := e.Lookup(id)
		require.NoError(t, err)
		require.Truef(t, found, "id %d should be found", id)
	}
}

func TestReopenAfterInsertSeesCommittedEntries(t *testing.T) {
	csv := "id,title\n1,a\n"
	idxPath := buildTestIndex(t, csv)

	e, err := Open(idxPath)
	require.NoError(t, err)

	e.WriterLock()
	err = e.Insert(7, 999)
	e.WriterUnlock()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(idxPath)
	require.NoError(t, err)
	defer e2.Close()

	off, found, err := e2.Lookup(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(999), off)
}
