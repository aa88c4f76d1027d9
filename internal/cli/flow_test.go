package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendN appends n heartbeat envelopes under root.
func appendN(t *testing.T, root string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
		require.NoError(t, err)
	}
}

// exportedBatchDir returns the single batch directory under
// root/exports.
func exportedBatchDir(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "exports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(root, "exports", entries[0].Name())
}

func TestExportThenImport(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	appendN(t, srcRoot, 3)

	out, _, err := execute(t, srcRoot, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3 envelopes in 1 chunk(s)")

	batchDir := exportedBatchDir(t, srcRoot)

	out, _, err = execute(t, destRoot, "import", batchDir)
	require.NoError(t, err)
	assert.Contains(t, out, "merged 3 envelopes")

	// Second import is a no-op.
	out, _, err = execute(t, destRoot, "import", batchDir)
	require.NoError(t, err)
	assert.Contains(t, out, "already imported")

	// --force merges again.
	out, _, err = execute(t, destRoot, "import", "--force", batchDir)
	require.NoError(t, err)
	assert.Contains(t, out, "merged 3 envelopes")
}

func TestExportNothingNew(t *testing.T) {
	root := t.TempDir()
	appendN(t, root, 2)

	_, _, err := execute(t, root, "export")
	require.NoError(t, err)

	out, _, err := execute(t, root, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing new to export")
}

func TestImportRejectsTamperedBatch(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	appendN(t, srcRoot, 2)

	_, _, err := execute(t, srcRoot, "export")
	require.NoError(t, err)
	batchDir := exportedBatchDir(t, srcRoot)

	chunk := filepath.Join(batchDir, "chunk-000000.jsonl")
	data, err := os.ReadFile(chunk)
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, os.WriteFile(chunk, data, 0o644))

	out, _, err := execute(t, destRoot, "import", batchDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "INTEGRITY_FAILURE")
}

func TestStatusReportsHeadAndImports(t *testing.T) {
	srcRoot := t.TempDir()
	destRoot := t.TempDir()
	appendN(t, srcRoot, 3)

	out, _, err := execute(t, srcRoot, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "head seq:      3")
	assert.Contains(t, out, "last exported: 0")

	_, _, err = execute(t, srcRoot, "export")
	require.NoError(t, err)

	out, _, err = execute(t, srcRoot, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "last exported: 3")

	_, _, err = execute(t, destRoot, "import", exportedBatchDir(t, srcRoot))
	require.NoError(t, err)

	out, _, err = execute(t, destRoot, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "imports:")
	assert.Contains(t, out, "3 envelopes")
}

func TestStatusJSON(t *testing.T) {
	root := t.TempDir()
	appendN(t, root, 1)

	out, _, err := execute(t, root, "--format", "json", "status")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["head_seq"])
	assert.Len(t, data["head_hash"], 64)
	assert.NotEmpty(t, data["node_id"])
}

func TestLogFilters(t *testing.T) {
	root := t.TempDir()

	_, _, err := execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
	require.NoError(t, err)
	_, _, err = execute(t, root, "append", "--type", "audit_entry", "--source", "api", "--tag", "security")
	require.NoError(t, err)
	_, _, err = execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
	require.NoError(t, err)

	out, _, err := execute(t, root, "log")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))

	out, _, err = execute(t, root, "log", "--type", "heartbeat")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.NotContains(t, out, "audit_entry")

	out, _, err = execute(t, root, "log", "--tag", "security")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "audit_entry")

	out, _, err = execute(t, root, "log", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "     3  ")
}

func TestLogEmpty(t *testing.T) {
	out, _, err := execute(t, t.TempDir(), "log")
	require.NoError(t, err)
	assert.Contains(t, out, "no envelopes")
}

func TestLogJSON(t *testing.T) {
	root := t.TempDir()
	appendN(t, root, 2)

	out, _, err := execute(t, root, "--format", "json", "log")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	envs, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, envs, 2)
}
