// Package transaction packages the index engine and CSV store as one
// explicit, passable value — replacing the process-wide global state the
// reference implementation relied on — so that handlers (and tests) can
// instantiate multiple independent stores in one process. See spec.md §9
// ("Global mutable state → explicit context").
package transaction

import (
	"bkidx/internal/csvstore"
	"bkidx/internal/engine"
	"bkidx/internal/logger"
)

// Manager is the engine value a connection handler is given: it owns the
// two-writer coordination between the CSV file and the index file that
// ADD requires (spec.md §1, §5).
type Manager struct {
	Index *engine.Engine
	CSV   *csvstore.Store
}

// New wraps an already-open engine and CSV store.
func New(idx *engine.Engine, csv *csvstore.Store) *Manager {
	return &Manager{Index: idx, CSV: csv}
}

// Close closes both underlying files.
func (m *Manager) Close() error {
	ierr := m.Index.Close()
	cerr := m.CSV.Close()
	if ierr != nil {
		return ierr
	}
	return cerr
}

// GetResult is the outcome of a Get call.
type GetResult int

const (
	GetFound GetResult = iota
	GetNotFound
	GetIOError
)

// Get resolves id to its raw CSV line. Lookups may run concurrently with
// each other and with any in-flight Add (spec.md §5).
func (m *Manager) Get(id uint64) (line string, result GetResult) {
	offset, found, err := m.Index.Lookup(id)
	if err != nil {
		logger.Error("transaction: lookup %d: %v", id, err)
		return "", GetIOError
	}
	if !found {
		return "", GetNotFound
	}

	line, err = m.CSV.ReadLineAt(int64(offset))
	if err != nil {
		logger.Error("transaction: read csv at %d for id %d: %v", offset, id, err)
		return "", GetIOError
	}
	return line, GetFound
}

// AddResult is the outcome of an Add call.
type AddResult int

const (
	AddOK AddResult = iota
	AddDuplicate
	AddIndexReadError
	AddIndexWriteError
)

// Add appends csvLine to the CSV file and inserts its (id, offset) into
// the index, after verifying id is not already present. The whole
// check-then-append-then-insert sequence runs under the index engine's
// single writer lock, per spec.md §5 ("A single writer lock serializes
// the entire ADD path").
//
// Known gap, preserved from the reference design (spec.md §9, open
// question 1): if the index insert fails after the CSV append has already
// happened, the appended CSV line is not rolled back and becomes an
// orphan, unreferenced by any index entry.
func (m *Manager) Add(id uint64, csvLine string) AddResult {
	m.Index.WriterLock()
	defer m.Index.WriterUnlock()

	_, found, err := m.Index.Lookup(id)
	if err != nil {
		logger.Error("transaction: duplicate-check lookup %d: %v", id, err)
		return AddIndexReadError
	}
	if found {
		return AddDuplicate
	}

	offset, err := m.CSV.AppendLine(csvLine)
	if err != nil {
		logger.Error("transaction: append csv for id %d: %v", id, err)
		return AddIndexWriteError
	}

	if err := m.Index.Insert(id, uint64(offset)); err != nil {
		logger.Error("transaction: insert id %d at offset %d: %v", id, offset, err)
		return AddIndexWriteError
	}
	return AddOK
}
