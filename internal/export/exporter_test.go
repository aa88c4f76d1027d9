package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerworks/evidlog/internal/envelope"
	"github.com/ledgerworks/evidlog/internal/journal"
)

const testNode = "node-a"

type fixture struct {
	journalPath string
	markPath    string
	exportsDir  string
}

func newFixture(t *testing.T, appends int) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		journalPath: filepath.Join(dir, "journal", testNode+".log"),
		markPath:    filepath.Join(dir, "state", testNode+".exported"),
		exportsDir:  filepath.Join(dir, "exports"),
	}

	j, err := journal.Open(fx.journalPath, filepath.Join(dir, "state", testNode+".seq"), testNode)
	require.NoError(t, err)
	defer j.Close()
	for i := 0; i < appends; i++ {
		_, err := j.Append(envelope.TypeTelemetrySnapshot, map[string]any{"i": int64(i)}, nil, "test")
		require.NoError(t, err)
	}
	return fx
}

func newExporter(fx fixture, chunkSize int) *Exporter {
	e := New(fx.journalPath, fx.markPath, fx.exportsDir, testNode, chunkSize)
	e.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestExportNewManifestMatchesChunk(t *testing.T) {
	fx := newFixture(t, 3)
	batch, err := newExporter(fx, 1000).ExportNew()
	require.NoError(t, err)
	require.NotNil(t, batch)

	m := batch.Manifest
	assert.Equal(t, testNode, m.NodeID)
	assert.NotEmpty(t, m.BatchID)
	require.Len(t, m.Chunks, 1)
	assert.Equal(t, 3, m.Chunks[0].Count)
	assert.Equal(t, uint64(1), m.Chunks[0].FirstSeq)
	assert.Equal(t, uint64(3), m.Chunks[0].LastSeq)

	chunkBytes, err := os.ReadFile(filepath.Join(batch.Dir, m.Chunks[0].Filename))
	require.NoError(t, err)
	assert.Equal(t, m.Chunks[0].ContentHash, HashBytes(chunkBytes),
		"manifest hash must match actual chunk content")

	// Exported bytes are the journal's bytes, verbatim.
	journalBytes, err := os.ReadFile(fx.journalPath)
	require.NoError(t, err)
	assert.Equal(t, journalBytes, chunkBytes)

	// The manifest on disk round-trips.
	onDisk, err := ReadManifest(filepath.Join(batch.Dir, ManifestFilename))
	require.NoError(t, err)
	assert.Equal(t, m, onDisk)
}

func TestExportNewIdempotentNoOp(t *testing.T) {
	fx := newFixture(t, 3)
	e := newExporter(fx, 1000)

	batch, err := e.ExportNew()
	require.NoError(t, err)
	require.NotNil(t, batch)

	entries, err := os.ReadDir(fx.exportsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Second call with nothing new: no batch, no writes.
	batch2, err := e.ExportNew()
	require.NoError(t, err)
	assert.Nil(t, batch2)

	entries, err = os.ReadDir(fx.exportsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no-op export must not touch the filesystem")
}

func TestExportNewAdvancesMark(t *testing.T) {
	fx := newFixture(t, 3)
	e := newExporter(fx, 1000)

	_, err := e.ExportNew()
	require.NoError(t, err)

	mark, err := e.LastExported()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), mark)
}

func TestExportNewOnlyAboveMark(t *testing.T) {
	fx := newFixture(t, 2)
	e := newExporter(fx, 1000)

	_, err := e.ExportNew()
	require.NoError(t, err)

	// Two more appends, then a second export: only seq 3..4 ship.
	j, err := journal.Open(fx.journalPath, filepath.Join(filepath.Dir(fx.markPath), testNode+".seq"), testNode)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := j.Append(envelope.TypeHeartbeat, map[string]any{}, nil, "test")
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	batch, err := e.ExportNew()
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Len(t, batch.Manifest.Chunks, 1)
	assert.Equal(t, uint64(3), batch.Manifest.Chunks[0].FirstSeq)
	assert.Equal(t, uint64(4), batch.Manifest.Chunks[0].LastSeq)
	assert.Equal(t, 2, batch.Manifest.Chunks[0].Count)
}

func TestExportNewSplitsChunks(t *testing.T) {
	fx := newFixture(t, 5)
	batch, err := newExporter(fx, 2).ExportNew()
	require.NoError(t, err)
	require.NotNil(t, batch)

	require.Len(t, batch.Manifest.Chunks, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{
		batch.Manifest.Chunks[0].Count,
		batch.Manifest.Chunks[1].Count,
		batch.Manifest.Chunks[2].Count,
	})
	assert.Equal(t, uint64(3), batch.Manifest.Chunks[1].FirstSeq)
	assert.Equal(t, uint64(5), batch.Manifest.Chunks[2].LastSeq)
}

func TestExportEmptyJournal(t *testing.T) {
	dir := t.TempDir()
	e := New(
		filepath.Join(dir, "journal", testNode+".log"),
		filepath.Join(dir, "state", testNode+".exported"),
		filepath.Join(dir, "exports"),
		testNode, 1000,
	)

	batch, err := e.ExportNew()
	require.NoError(t, err)
	assert.Nil(t, batch)

	_, err = os.Stat(filepath.Join(dir, "exports"))
	assert.True(t, os.IsNotExist(err), "no-op export must create nothing")
}

func TestReadManifestRejectsEmptyChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"v1","node_id":"a","batch_id":"b","exported_at":"t","chunks":[]}`), 0o644))

	_, err := ReadManifest(path)
	assert.Error(t, err)
}
