// Package snapshot implements an operator-only backup of the index and
// CSV files: a zstd-compressed copy of each, plus a manifest carrying a
// blake3 content digest, so a known-good pair can be restored after a
// suspected corrupt ADD. This is additive to spec.md — it never runs on
// the GET/ADD hot path — and is grounded on the teacher's
// Manager.Snapshot, adapted from a per-bucket-file copy to a whole
// idx+csv pair copy (see SPEC_FULL.md, "Snapshot/restore").
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Manifest describes one snapshot's members.
type Manifest struct {
	Name         string `json:"name"`
	IndexDigest  string `json:"index_digest"`
	CSVDigest    string `json:"csv_digest"`
	TotalEntries uint64 `json:"total_entries"`
}

// Create copies idxPath and csvPath into destDir/name, zstd-compressing
// each member, and writes a manifest.json with blake3 digests of the
// pre-compression bytes. totalEntries is recorded for operator reference
// (it is not re-derived from the compressed copy).
func Create(idxPath, csvPath, destDir, name string, totalEntries uint64) (Manifest, error) {
	snapDir := filepath.Join(destDir, name)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: create dir %s: %w", snapDir, err)
	}

	idxDigest, err := compressFile(idxPath, filepath.Join(snapDir, "index.zst"))
	if err != nil {
		return Manifest{}, err
	}
	csvDigest, err := compressFile(csvPath, filepath.Join(snapDir, "csv.zst"))
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		Name:         name,
		IndexDigest:  idxDigest,
		CSVDigest:    csvDigest,
		TotalEntries: totalEntries,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, "manifest.json"), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: write manifest: %w", err)
	}
	return manifest, nil
}

// compressFile streams srcPath through a zstd encoder into dstPath and
// returns the hex blake3 digest of the uncompressed bytes read.
func compressFile(srcPath, dstPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("snapshot: open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", dstPath, err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return "", fmt.Errorf("snapshot: new zstd writer: %w", err)
	}

	h := blake3.New()
	buf := make([]byte, 256*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := enc.Write(buf[:n]); err != nil {
				enc.Close()
				return "", fmt.Errorf("snapshot: compress %s: %w", srcPath, err)
			}
			h.Write(buf[:n])
		}
		if readErr != nil {
			if readErr != io.EOF {
				enc.Close()
				return "", fmt.Errorf("snapshot: read %s: %w", srcPath, readErr)
			}
			break
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("snapshot: flush %s: %w", dstPath, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
