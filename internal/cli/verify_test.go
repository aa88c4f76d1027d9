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

// journalPathFor reads the node identity created under root and
// returns that node's journal path.
func journalPathFor(t *testing.T, root string) string {
	t.Helper()
	id, err := os.ReadFile(filepath.Join(root, "node.id"))
	require.NoError(t, err)
	nodeID := strings.TrimSpace(string(id))
	return filepath.Join(root, "journal", nodeID+".log")
}

func TestVerifyValidChain(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		_, _, err := execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
		require.NoError(t, err)
	}

	out, _, err := execute(t, root, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "chain valid: 3 envelopes")
}

func TestVerifyEmptyChain(t *testing.T) {
	root := t.TempDir()

	// Force identity creation so verify has a node to name.
	_, _, err := execute(t, root, "status")
	require.NoError(t, err)

	out, _, err := execute(t, root, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "chain valid: 0 envelopes")
}

func TestVerifyDetectsTamper(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 2; i++ {
		_, _, err := execute(t, root, "append", "--type", "system_event", "--source", "kernel")
		require.NoError(t, err)
	}

	// Flip one byte inside the first record's payload region.
	path := journalPathFor(t, root)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx := strings.Index(string(data), `"source":"kernel"`)
	require.Positive(t, idx)
	data[idx+11] ^= 0x20
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, _, err := execute(t, root, "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "HASH_MISMATCH")
}

func TestVerifyJSONReport(t *testing.T) {
	root := t.TempDir()
	_, _, err := execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
	require.NoError(t, err)

	out, _, err := execute(t, root, "--format", "json", "verify")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(1), data["envelopes"])
}

func TestCountAndVerifySinglePass(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		_, _, err := execute(t, root, "append", "--type", "heartbeat", "--source", "scheduler")
		require.NoError(t, err)
	}
	path := journalPathFor(t, root)
	id, err := os.ReadFile(filepath.Join(root, "node.id"))
	require.NoError(t, err)
	nodeID := strings.TrimSpace(string(id))

	count, cerr := countAndVerify(path, nodeID)
	require.Nil(t, cerr)
	assert.Equal(t, uint64(3), count)

	// A violation reports the envelopes verified before it.
	count, cerr = countAndVerify(path, "someone-else")
	require.NotNil(t, cerr)
	assert.Equal(t, uint64(0), count)

	count, cerr = countAndVerify(filepath.Join(root, "absent.log"), nodeID)
	require.Nil(t, cerr)
	assert.Equal(t, uint64(0), count)
}

func TestVerifyJournalFlagRequiresNode(t *testing.T) {
	root := t.TempDir()
	_, _, err := execute(t, root, "verify", "--journal", "/tmp/some.log")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--node")

	// The rejected invocation must not create state as a side effect.
	assert.NoFileExists(t, filepath.Join(root, "node.id"))
}
