package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Empty(t, cfg.Root)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /var/lib/evidlog\nchunk_size: 250\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/evidlog", cfg.Root)
	assert.Equal(t, 250, cfg.ChunkSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /data\nchunk_sise: 10\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadClampsChunkSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data")

	assert.Equal(t, filepath.Join("/data", "node.id"), l.IdentityPath())
	assert.Equal(t, filepath.Join("/data", "journal", "node-a.log"), l.JournalPath("node-a"))
	assert.Equal(t, filepath.Join("/data", "state", "node-a.seq"), l.CounterPath("node-a"))
	assert.Equal(t, filepath.Join("/data", "state", "node-a.exported"), l.ExportMarkPath("node-a"))
	assert.Equal(t, filepath.Join("/data", "exports"), l.ExportsDir())
	assert.Equal(t, filepath.Join("/data", "federated", "node-a", "b1"), l.BatchDestDir("node-a", "b1"))
	assert.Equal(t, filepath.Join("/data", "imports.db"), l.ImportIndexPath())
}
