// Package builder implements the offline, one-shot construction of a
// bucket-hashed index file from a CSV record file. See spec.md §4.1.
package builder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"bkidx/internal/format"
	"bkidx/internal/logger"
)

// maxIDFieldLen is the longest accepted decimal identifier field, per spec.
const maxIDFieldLen = 32

// Stats summarizes a completed build, for progress reporting.
type Stats struct {
	TotalEntries uint64
	SkippedLines uint64
	NonEmptyBuckets int
}

// Build reads csvPath (whose first line is a header to discard) and writes
// a new index file at idxPath with the layout described in spec.md §3/§6.1.
//
// It distributes (id, offset) pairs into 1000 scratch files so that peak
// memory is bounded by the largest single bucket rather than by the total
// number of entries, sorts each bucket in memory, and publishes the result
// atomically: the finished file is assembled at a temporary path and only
// then moved into idxPath, so a reader that opens idxPath never observes a
// partially-written index.
func Build(csvPath, idxPath string) (Stats, error) {
	csv, err := os.Open(csvPath)
	if err != nil {
		return Stats{}, fmt.Errorf("builder: open csv: %w", err)
	}
	defer csv.Close()

	scratch, err := newScratchFiles()
	if err != nil {
		return Stats{}, err
	}
	defer scratch.closeAndRemove()

	total, skipped, err := partition(csv, scratch)
	if err != nil {
		return Stats{}, err
	}

	tmpOut, err := os.CreateTemp("", "bkidx-build-*.idx")
	if err != nil {
		return Stats{}, fmt.Errorf("builder: create temp output: %w", err)
	}
	tmpOutPath := tmpOut.Name()
	defer os.Remove(tmpOutPath)

	nonEmpty, err := assemble(tmpOut, scratch, total)
	if closeErr := tmpOut.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Stats{}, err
	}

	published, err := os.Open(tmpOutPath)
	if err != nil {
		return Stats{}, fmt.Errorf("builder: reopen assembled index: %w", err)
	}
	defer published.Close()

	if err := atomic.WriteFile(idxPath, published); err != nil {
		return Stats{}, fmt.Errorf("builder: publish index: %w", err)
	}

	logger.Info("builder: wrote %s (%d entries, %d non-empty buckets, %d skipped lines)",
		idxPath, total, nonEmpty, skipped)

	return Stats{TotalEntries: total, SkippedLines: skipped, NonEmptyBuckets: nonEmpty}, nil
}

// partition streams the CSV and fans (id, offset) pairs out to the 1000
// scratch files, one append per record. Returns the total number of
// indexed entries and the number of non-empty, non-header lines skipped
// for failing to parse.
func partition(csv *os.File, scratch *scratchFiles) (total, skipped uint64, err error) {
	r := bufio.NewReaderSize(csv, 128*1024)

	// Discard the header line; it is never indexed.
	header, err := readLine(r)
	if err == io.EOF {
		return 0, 0, fmt.Errorf("builder: csv is empty")
	} else if err != nil {
		return 0, 0, fmt.Errorf("builder: read header: %w", err)
	}

	offset := int64(len(header))
	pairBuf := make([]byte, format.PairSize)

	for {
		lineOffset := offset
		line, readErr := readLine(r)
		offset += int64(len(line))
		if len(line) == 0 && readErr != nil {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if readErr != nil {
				break
			}
			continue
		}

		id, ok := parseLeadingID(trimmed)
		if !ok {
			skipped++
			if readErr != nil {
				break
			}
			continue
		}

		b := format.Hash(id)
		format.PutPair(pairBuf, format.Pair{ID: id, Offset: uint64(lineOffset)})
		if _, err := scratch.files[b].Write(pairBuf); err != nil {
			return 0, 0, fmt.Errorf("builder: write scratch bucket %d: %w", b, err)
		}
		total++

		if readErr != nil {
			break
		}
	}
	return total, skipped, nil
}

// readLine reads up to and including the next '\n', or to EOF. It returns
// io.EOF alongside any trailing partial data when the stream ends without
// a newline.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return line, err
	}
	if err == io.EOF && line == "" {
		return "", io.EOF
	}
	if err == io.EOF {
		return line, io.EOF
	}
	return line, nil
}

// parseLeadingID extracts, trims, and parses the first comma-terminated
// field of line as a decimal uint64, per spec.md §4.1 step 2.
func parseLeadingID(line string) (uint64, bool) {
	field := line
	if i := strings.IndexByte(line, ','); i >= 0 {
		field = line[:i]
	}
	field = strings.TrimSpace(field)
	field = strings.Trim(field, `"`)
	field = strings.TrimSpace(field)

	if field == "" || len(field) > maxIDFieldLen {
		return 0, false
	}
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	var id uint64
	for _, c := range field {
		d := uint64(c - '0')
		if id > (^uint64(0)-d)/10 {
			return 0, false // overflow
		}
		id = id*10 + d
	}
	return id, true
}

// assemble writes the zeroed header+directory placeholder, then for each
// bucket in order loads its scratch pairs, sorts them, appends the sorted
// body, and records the real directory entry. It finally rewrites the
// header and directory with final values. Returns the number of non-empty
// buckets.
func assemble(out *os.File, scratch *scratchFiles, total uint64) (int, error) {
	placeholder := make([]byte, format.BucketsOffset)
	if _, err := out.Write(placeholder); err != nil {
		return 0, fmt.Errorf("builder: write placeholder prelude: %w", err)
	}

	var dir format.Directory
	nonEmpty := 0

	for b := 0; b < format.TableSize; b++ {
		f := scratch.files[b]
		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("builder: stat scratch bucket %d: %w", b, err)
		}
		count := uint64(size) / format.PairSize
		if count == 0 {
			continue
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("builder: rewind scratch bucket %d: %w", b, err)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return 0, fmt.Errorf("builder: read scratch bucket %d: %w", b, err)
		}
		pairs := format.DecodePairs(buf)
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })

		bucketOffset, err := out.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("builder: seek end for bucket %d: %w", b, err)
		}
		if _, err := out.Write(format.EncodePairs(pairs)); err != nil {
			return 0, fmt.Errorf("builder: write bucket %d body: %w", b, err)
		}

		dir[b] = format.DirEntry{BucketOffset: uint64(bucketOffset), BucketCount: count}
		nonEmpty++
	}

	dirBuf := dir.Encode()
	if _, err := out.WriteAt(dirBuf, format.DirectoryOffset); err != nil {
		return 0, fmt.Errorf("builder: rewrite directory: %w", err)
	}

	hdr := format.Header{TotalEntries: total}
	hdrBuf := make([]byte, format.HeaderSize)
	hdr.Encode(hdrBuf)
	if _, err := out.WriteAt(hdrBuf, 0); err != nil {
		return 0, fmt.Errorf("builder: rewrite header: %w", err)
	}

	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("builder: flush assembled index: %w", err)
	}

	return nonEmpty, nil
}
