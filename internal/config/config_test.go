package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysCommentedHujson(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.json")
	content := `{
		// bind only to loopback in dev
		"bind_ip": "127.0.0.1",
		"port": 9100,
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.BindIP)
	require.Equal(t, 9100, cfg.Port)
	// Untouched fields keep their defaults.
	require.Equal(t, Default().MaxBucketBytes, cfg.MaxBucketBytes)
}
