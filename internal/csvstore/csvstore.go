// Package csvstore provides positional read/append access to the
// append-only CSV record file. See spec.md §4.4.
package csvstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Store wraps the open CSV file. Reads use positional I/O (ReadAt) so
// concurrent readers never race on a shared cursor; appends are
// serialized by appendMu since "seek to end, then write" must be atomic
// with respect to other appenders.
type Store struct {
	file     *os.File
	appendMu sync.Mutex
}

// Open opens path for reading and appending, creating it if absent.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvstore: open %s: %w", path, err)
	}
	return &Store{file: f}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}

// ReadLineAt seeks to offset and reads bytes up to and including the next
// newline, or to EOF, whichever comes first. The returned line includes
// its trailing newline if one was present. It is an error for the read to
// yield zero bytes.
func (s *Store) ReadLineAt(offset int64) (string, error) {
	r := io.NewSectionReader(s.file, offset, 1<<31-1)
	br := bufio.NewReaderSize(r, 4096)

	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("csvstore: read at %d: %w", offset, err)
	}
	if line == "" {
		return "", fmt.Errorf("csvstore: read at %d: zero bytes", offset)
	}
	return line, nil
}

// AppendLine appends text followed by a single '\n' to the end of the
// file and returns the byte offset at which text's first byte was
// written. The caller must ensure text contains no embedded newlines;
// AppendLine does not validate this.
func (s *Store) AppendLine(text string) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("csvstore: seek end: %w", err)
	}
	if _, err := s.file.WriteString(text); err != nil {
		return 0, fmt.Errorf("csvstore: write: %w", err)
	}
	if _, err := s.file.WriteString("\n"); err != nil {
		return 0, fmt.Errorf("csvstore: write newline: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("csvstore: sync: %w", err)
	}
	return offset, nil
}
