// Package engine implements the online lookup/insert engine over a
// bucket-hashed index file: it holds the file open for read/write, caches
// the directory in memory, resolves identifiers by binary search within a
// bucket, and appends new entries while preserving the file's invariants.
// See spec.md §4.2, §4.3, §5.
package engine

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"bkidx/internal/format"
)

// ErrDuplicateID names the duplicate-id outcome of an insert. Insert does
// not itself re-check uniqueness and never returns it; uniqueness rests on
// the caller holding WriterLock across its own Lookup and Insert (see
// transaction.Manager.Add, which reports duplicates itself).
var ErrDuplicateID = fmt.Errorf("engine: duplicate id")

// ErrBucketTooLarge signals that a directory entry claims a bucket body
// larger than format.MaxBucketBytes, the corrupted-directory guard from
// spec.md §4.2.
var ErrBucketTooLarge = fmt.Errorf("engine: bucket exceeds size guard")

// Engine is the in-process handle over one open index file.
//
// Concurrency discipline (spec.md §5):
//   - dirMu is a reader-writer lock over the in-memory directory cache.
//     Lookup takes RLock to read one slot; Insert takes Lock only for the
//     brief directory-slot swap and header bump, after the new bucket body
//     has already been durably appended.
//   - writerMu serializes the *entire* Insert path end to end (uniqueness
//     is enforced by the caller holding this lock across its own
//     check-then-insert, see transaction.Manager.Add), since two
//     interleaved inserts into the same bucket would corrupt the sorted
//     invariant.
//   - All index-file I/O is positional (ReadAt/WriteAt); the engine never
//     relies on the file's shared cursor, so concurrent readers and the
//     single writer cannot race on seek position.
type Engine struct {
	file *os.File

	dirMu sync.RWMutex
	dir   format.Directory

	writerMu sync.Mutex

	totalEntries uint64
}

// Open loads dir into memory from idxPath and returns a ready Engine.
func Open(idxPath string) (*Engine, error) {
	f, err := os.OpenFile(idxPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", idxPath, err)
	}

	hdr, dir, err := format.ReadHeaderAndDirectory(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("engine: load %s: %w", idxPath, err)
	}

	return &Engine{file: f, dir: dir, totalEntries: hdr.TotalEntries}, nil
}

// Close closes the underlying index file.
func (e *Engine) Close() error {
	return e.file.Close()
}

// TotalEntries reports the header's current entry count, for operator
// tooling (snapshot manifests) rather than the lookup/insert path.
func (e *Engine) TotalEntries() uint64 {
	e.dirMu.RLock()
	defer e.dirMu.RUnlock()
	return e.totalEntries
}

// Lookup resolves id to its CSV byte offset. found is false when the id is
// not present; err is non-nil only for I/O failure or a corrupted bucket.
func (e *Engine) Lookup(id uint64) (offset uint64, found bool, err error) {
	b := format.Hash(id)

	e.dirMu.RLock()
	entry := e.dir[b]
	e.dirMu.RUnlock()

	if entry.BucketCount == 0 {
		return 0, false, nil
	}

	pairs, err := e.readBucket(entry)
	if err != nil {
		return 0, false, err
	}

	i := sort.Search(len(pairs), func(i int) bool { return pairs[i].ID >= id })
	if i < len(pairs) && pairs[i].ID == id {
		return pairs[i].Offset, true, nil
	}
	return 0, false, nil
}

// Insert adds (id, offset) to the engine's bucket, preserving sortedness,
// and appends the enlarged bucket body at EOF rather than rewriting it in
// place (spec.md §4.3). The caller must already have verified, via Lookup
// under the same writer serialization, that id is absent: Insert does not
// itself re-check.
//
// Callers must hold Engine's implicit single-writer discipline: only one
// goroutine may call Insert concurrently across the process. See
// transaction.Manager.Add, which holds the engine's writer lock
// (WriterLock) across the call to make this safe.
func (e *Engine) Insert(id, offset uint64) error {
	b := format.Hash(id)

	e.dirMu.RLock()
	entry := e.dir[b]
	e.dirMu.RUnlock()

	var pairs []format.Pair
	if entry.BucketCount > 0 {
		var err error
		pairs, err = e.readBucket(entry)
		if err != nil {
			return err
		}
	}

	pairs = insertSorted(pairs, format.Pair{ID: id, Offset: offset})

	fi, err := e.file.Stat()
	if err != nil {
		return fmt.Errorf("engine: stat index: %w", err)
	}
	newOffset := fi.Size()
	body := format.EncodePairs(pairs)
	if _, err := e.file.WriteAt(body, newOffset); err != nil {
		return fmt.Errorf("engine: write bucket body: %w", err)
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("engine: sync bucket body: %w", err)
	}

	newEntry := format.DirEntry{BucketOffset: uint64(newOffset), BucketCount: uint64(len(pairs))}

	e.dirMu.Lock()
	e.dir[b] = newEntry
	e.totalEntries++
	newTotal := e.totalEntries
	e.dirMu.Unlock()

	dirBuf := make([]byte, format.DirEntrySize)
	newEntry.Encode(dirBuf)
	if _, err := e.file.WriteAt(dirBuf, format.DirEntryOffset(b)); err != nil {
		return fmt.Errorf("engine: write directory entry %d: %w", b, err)
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("engine: sync directory entry: %w", err)
	}

	hdr := format.Header{TotalEntries: newTotal}
	hdrBuf := make([]byte, format.HeaderSize)
	hdr.Encode(hdrBuf)
	if _, err := e.file.WriteAt(hdrBuf, 0); err != nil {
		return fmt.Errorf("engine: write header: %w", err)
	}
	return e.file.Sync()
}

// WriterLock exposes the engine's single-writer mutex so that
// transaction.Manager can serialize the full check-then-append-then-insert
// path (CSV append + index insert) as one atomic unit, per spec.md §5.
func (e *Engine) WriterLock() {
	e.writerMu.Lock()
}

// WriterUnlock releases the lock taken by WriterLock.
func (e *Engine) WriterUnlock() {
	e.writerMu.Unlock()
}

func (e *Engine) readBucket(entry format.DirEntry) ([]format.Pair, error) {
	nbytes := entry.BucketCount * format.PairSize
	if nbytes > format.MaxBucketBytes {
		return nil, ErrBucketTooLarge
	}
	buf := make([]byte, nbytes)
	if _, err := e.file.ReadAt(buf, int64(entry.BucketOffset)); err != nil {
		return nil, fmt.Errorf("engine: read bucket body: %w", err)
	}
	return format.DecodePairs(buf), nil
}

// insertSorted returns a new slice with p inserted in ascending-ID order.
func insertSorted(pairs []format.Pair, p format.Pair) []format.Pair {
	i := sort.Search(len(pairs), func(i int) bool { return pairs[i].ID >= p.ID })
	out := make([]format.Pair, len(pairs)+1)
	copy(out, pairs[:i])
	out[i] = p
	copy(out[i+1:], pairs[i:])
	return out
}
