// Package config loads the server's optional operator config file. The
// wire/file formats (spec.md §3, §6) are fixed by the specification; this
// package only covers the ambient knobs spec.md leaves to the operator:
// bind address, port, file paths, and the corrupted-bucket size guard.
//
// Precedence, highest wins: defaults < config file < CLI flag overrides,
// the same layering calvinalkan-agent-task/config.go uses for its JSON
// config.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"bkidx/internal/format"
)

// Config holds the server's runtime configuration.
type Config struct {
	BindIP          string `json:"bind_ip"`
	Port            int    `json:"port"`
	IndexPath       string `json:"index_path"`
	CSVPath         string `json:"csv_path"`
	MaxBucketBytes  int64  `json:"max_bucket_bytes"`
	SnapshotDir     string `json:"snapshot_dir,omitempty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		BindIP:         "0.0.0.0",
		Port:           9000,
		MaxBucketBytes: format.MaxBucketBytes,
		SnapshotDir:    "snapshots",
	}
}

// Load reads an optional HUJSON config file at path (comments and trailing
// commas tolerated) layered over the defaults. A missing file is not an
// error — it simply yields the defaults, so a config file is optional
// operator convenience, not a requirement.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
