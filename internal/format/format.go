// Package format describes the on-disk layout of a bucket-hashed primary-key
// index file: the fixed header, the fixed-size bucket directory, and the
// (id, offset) pair encoding used inside each bucket body.
//
// All integers are little-endian on disk regardless of host byte order, so
// the file is portable between architectures. See spec.md §6.1 for the
// byte-exact layout this package implements.
package format

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic identifies a valid index file. Exactly 8 bytes, no terminator.
const Magic = "BKIDXv01"

// TableSize is the fixed bucket cardinality. Part of the file's ABI.
const TableSize = 1000

// HashMultiplier is the Knuth multiplicative constant used by h(id).
const HashMultiplier = 2654435761

// PairSize is the on-disk size of one (id, offset) pair.
const PairSize = 16

// DirEntrySize is the on-disk size of one directory entry.
const DirEntrySize = 16

// HeaderSize is the on-disk size of the header.
const HeaderSize = 24

// DirectoryOffset is the byte position of the first directory entry.
const DirectoryOffset = HeaderSize

// BucketsOffset is the byte position where bucket bodies begin.
const BucketsOffset = DirectoryOffset + TableSize*DirEntrySize

// MaxBucketBytes guards against a corrupted directory entry causing an
// unbounded read: no single bucket may exceed this many bytes.
const MaxBucketBytes = 8 * 1024 * 1024

// Hash computes h(id) = (id * 2654435761) mod 1000 in wrapping unsigned
// 64-bit arithmetic. Readers and writers of the index file must agree on
// this bit-exactly; it is part of the format, not an implementation detail.
func Hash(id uint64) uint64 {
	return (id * HashMultiplier) % TableSize
}

// Pair is one (id, offset) entry: id is a catalog identifier, offset is the
// byte position in the CSV where the record's line begins.
type Pair struct {
	ID     uint64
	Offset uint64
}

// PutPair encodes p into buf, which must be at least PairSize bytes.
func PutPair(buf []byte, p Pair) {
	binary.LittleEndian.PutUint64(buf[0:8], p.ID)
	binary.LittleEndian.PutUint64(buf[8:16], p.Offset)
}

// GetPair decodes one Pair from buf, which must be at least PairSize bytes.
func GetPair(buf []byte) Pair {
	return Pair{
		ID:     binary.LittleEndian.Uint64(buf[0:8]),
		Offset: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// EncodePairs encodes pairs into a freshly allocated buffer, in order.
func EncodePairs(pairs []Pair) []byte {
	buf := make([]byte, len(pairs)*PairSize)
	for i, p := range pairs {
		PutPair(buf[i*PairSize:], p)
	}
	return buf
}

// DecodePairs decodes buf (whose length must be a multiple of PairSize)
// into a Pair slice.
func DecodePairs(buf []byte) []Pair {
	n := len(buf) / PairSize
	pairs := make([]Pair, n)
	for i := range pairs {
		pairs[i] = GetPair(buf[i*PairSize:])
	}
	return pairs
}

// Header is the fixed prelude of the index file.
type Header struct {
	TotalEntries uint64
}

// Encode writes the header (magic + table size + total entries) to buf,
// which must be at least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint64(buf[8:16], TableSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalEntries)
}

// DecodeHeader parses and validates a header from buf (at least HeaderSize
// bytes). It rejects files whose magic or table size don't match the ABI.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("format: short header (%d bytes)", len(buf))
	}
	if string(buf[0:8]) != Magic {
		return Header{}, fmt.Errorf("format: bad magic %q", buf[0:8])
	}
	tableSize := binary.LittleEndian.Uint64(buf[8:16])
	if tableSize != TableSize {
		return Header{}, fmt.Errorf("format: unsupported table size %d", tableSize)
	}
	return Header{TotalEntries: binary.LittleEndian.Uint64(buf[16:24])}, nil
}

// DirEntry locates and sizes one bucket's body within the index file.
type DirEntry struct {
	BucketOffset uint64
	BucketCount  uint64
}

// Encode writes one directory entry to buf (at least DirEntrySize bytes).
func (d DirEntry) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], d.BucketOffset)
	binary.LittleEndian.PutUint64(buf[8:16], d.BucketCount)
}

// DecodeDirEntry parses one directory entry from buf.
func DecodeDirEntry(buf []byte) DirEntry {
	return DirEntry{
		BucketOffset: binary.LittleEndian.Uint64(buf[0:8]),
		BucketCount:  binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Directory is the full in-memory bucket directory, one entry per bucket.
type Directory [TableSize]DirEntry

// Encode serializes the whole directory into a freshly allocated buffer.
func (d *Directory) Encode() []byte {
	buf := make([]byte, TableSize*DirEntrySize)
	for i, e := range d {
		e.Encode(buf[i*DirEntrySize:])
	}
	return buf
}

// DecodeDirectory parses a full directory from buf (TableSize*DirEntrySize
// bytes).
func DecodeDirectory(buf []byte) (Directory, error) {
	var d Directory
	want := TableSize * DirEntrySize
	if len(buf) < want {
		return d, fmt.Errorf("format: short directory (%d of %d bytes)", len(buf), want)
	}
	for i := range d {
		d[i] = DecodeDirEntry(buf[i*DirEntrySize:])
	}
	return d, nil
}

// ReadHeaderAndDirectory reads and validates the header and full directory
// from r, which must be positioned at the start of the file (offset 0).
func ReadHeaderAndDirectory(r io.Reader) (Header, Directory, error) {
	buf := make([]byte, BucketsOffset)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, Directory{}, fmt.Errorf("format: read prelude: %w", err)
	}
	hdr, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return Header{}, Directory{}, err
	}
	dir, err := DecodeDirectory(buf[DirectoryOffset:])
	if err != nil {
		return Header{}, Directory{}, err
	}
	var sum uint64
	for _, e := range dir {
		sum += e.BucketCount
	}
	if sum != hdr.TotalEntries {
		return Header{}, Directory{}, fmt.Errorf("format: directory counts sum to %d, header says %d", sum, hdr.TotalEntries)
	}
	return hdr, dir, nil
}

// DirEntryOffset returns the byte position of bucket b's directory slot.
func DirEntryOffset(b uint64) int64 {
	return int64(DirectoryOffset) + int64(b)*DirEntrySize
}
