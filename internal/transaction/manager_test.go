package transaction

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"bkidx/internal/builder"
	"bkidx/internal/csvstore"
	"bkidx/internal/engine"
)

func newTestManager(t *testing.T, csv string) *Manager {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	idxPath := filepath.Join(dir, "books.idx")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	_, err := builder.Build(csvPath, idxPath)
	require.NoError(t, err)

	idx, err := engine.Open(idxPath)
	require.NoError(t, err)
	store, err := csvstore.Open(csvPath)
	require.NoError(t, err)

	return New(idx, store)
}

func TestGetFoundAndNotFound(t *testing.T) {
	mgr := newTestManager(t, "id,title\n1,a\n")
	defer mgr.Close()

	line, result := mgr.Get(1)
	require.Equal(t, GetFound, result)
	require.Equal(t, "1,a\n", line)

	_, result = mgr.Get(99999999)
	require.Equal(t, GetNotFound, result)
}

func TestAddThenGetAndDuplicateRejected(t *testing.T) {
	mgr := newTestManager(t, "id,title\n")
	defer mgr.Close()

	result := mgr.Add(5107, "5107,total:2610840,5:891037")
	require.Equal(t, AddOK, result)

	line, getResult := mgr.Get(5107)
	require.Equal(t, GetFound, getResult)
	require.Equal(t, "5107,total:2610840,5:891037\n", line)

	result = mgr.Add(5107, "5107,total:2610840,5:891037")
	require.Equal(t, AddDuplicate, result)
}

func TestConcurrentAddsAllSucceedAndAllLookupsFind(t *testing.T) {
	mgr := newTestManager(t, "id,title\n")
	defer mgr.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res := mgr.Add(uint64(id+1), fmt.Sprintf("%d,book-%d", id+1, id+1))
			require.Equal(t, AddOK, res)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		_, result := mgr.Get(uint64(i + 1))
		require.Equal(t, GetFound, result)
	}
}
