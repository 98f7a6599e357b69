package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bkidx/internal/format"
)

func TestBuildCollidingIDsProduceSortedBucket(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	idxPath := filepath.Join(dir, "books.idx")

	csv := "id,title,author\n1,a,x\n1001,b,y\n2001,c,z\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	stats, err := Build(csvPath, idxPath)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.TotalEntries)

	raw, err := os.ReadFile(idxPath)
	require.NoError(t, err)

	hdr, err := format.DecodeHeader(raw[:format.HeaderSize])
	require.NoError(t, err)
	require.Equal(t, uint64(3), hdr.TotalEntries)

	fullDir, err := format.DecodeDirectory(raw[format.DirectoryOffset:format.BucketsOffset])
	require.NoError(t, err)

	b := format.Hash(1)
	require.Equal(t, b, format.Hash(1001))
	require.Equal(t, b, format.Hash(2001))

	entry := fullDir[b]
	require.Equal(t, uint64(3), entry.BucketCount)

	body := raw[entry.BucketOffset : entry.BucketOffset+entry.BucketCount*format.PairSize]
	pairs := format.DecodePairs(body)
	for i := 1; i < len(pairs); i++ {
		require.Truef(t, pairs[i-1].ID < pairs[i].ID, "bucket not sorted ascending at %d", i)
	}
}

func TestBuildSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	idxPath := filepath.Join(dir, "books.idx")

	csv := "id,title\n1,good\n,missing id\nnotanumber,bad\n" + makeLongID() + ",toolong\n\n2,good\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	stats, err := Build(csvPath, idxPath)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.TotalEntries)
	require.Equal(t, uint64(3), stats.SkippedLines)
}

func makeLongID() string {
	b := make([]byte, 40)
	for i := range b {
		b[i] = '9'
	}
	return string(b)
}

func TestBuildRejectsEmptyCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	idxPath := filepath.Join(dir, "books.idx")
	require.NoError(t, os.WriteFile(csvPath, []byte{}, 0o644))

	_, err := Build(csvPath, idxPath)
	require.Error(t, err)
}
