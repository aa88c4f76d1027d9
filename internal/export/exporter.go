// Package export materializes not-yet-exported journal entries into
// self-contained, integrity-checked batch directories.
package export

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerworks/evidlog/internal/envelope"
)

// maxLineBytes mirrors the journal's line bound.
const maxLineBytes = 4 << 20

// Exporter selects envelopes above the persisted high-water mark and
// copies them, byte for byte, into a new batch directory. Chunk lines
// are the journal's original lines, so an exported envelope is
// byte-identical to the appended one.
type Exporter struct {
	journalPath string
	markPath    string
	exportsDir  string
	nodeID      string
	chunkSize   int

	// now is swappable for deterministic batch IDs in tests.
	now func() time.Time
}

// Batch describes a completed export: the directory written and the
// manifest inside it.
type Batch struct {
	Dir      string
	Manifest *Manifest
}

// New returns an Exporter for one node's journal. chunkSize caps
// envelopes per chunk file; values <= 0 fall back to 1000.
func New(journalPath, markPath, exportsDir, nodeID string, chunkSize int) *Exporter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Exporter{
		journalPath: journalPath,
		markPath:    markPath,
		exportsDir:  exportsDir,
		nodeID:      nodeID,
		chunkSize:   chunkSize,
		now:         time.Now,
	}
}

// LastExported returns the persisted high-water mark (0 when nothing
// has been exported).
func (e *Exporter) LastExported() (uint64, error) {
	return ReadMark(e.markPath)
}

// ExportNew materializes every envelope with seq above the high-water
// mark into a fresh batch directory. With zero new envelopes it
// returns (nil, nil) and performs no filesystem writes.
//
// Durability is two-phase: chunk files are written and synced first,
// then the manifest referencing them, and only then is the mark
// advanced. A crash mid-export leaves at worst an orphan batch
// directory that no mark references - safe to discard and re-export.
func (e *Exporter) ExportNew() (*Batch, error) {
	mark, err := ReadMark(e.markPath)
	if err != nil {
		return nil, err
	}

	lines, firstSeq, lastSeq, err := e.collectAbove(mark)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	batchID := e.newBatchID()
	dir := filepath.Join(e.exportsDir, "batch-"+e.nodeID+"-"+batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create batch directory %s: %w", dir, err)
	}

	var chunks []ChunkEntry
	for i := 0; i*e.chunkSize < len(lines); i++ {
		lo := i * e.chunkSize
		hi := min(lo+e.chunkSize, len(lines))
		entry, err := writeChunk(dir, i, lines[lo:hi], firstSeq+uint64(lo))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, entry)
	}

	manifest := &Manifest{
		Version:    ManifestVersion,
		NodeID:     e.nodeID,
		BatchID:    batchID,
		ExportedAt: e.now().UTC().Format(time.RFC3339Nano),
		Chunks:     chunks,
	}
	if err := WriteManifest(filepath.Join(dir, ManifestFilename), manifest); err != nil {
		return nil, err
	}

	// Mark moves last: from here on the batch is referenced and will
	// never be re-exported.
	if err := writeMark(e.markPath, lastSeq); err != nil {
		return nil, err
	}

	return &Batch{Dir: dir, Manifest: manifest}, nil
}

// collectAbove reads the journal and returns the raw lines of every
// envelope with seq > mark, together with the first and last seq seen.
// Lines are kept verbatim so export preserves the appended bytes.
func (e *Exporter) collectAbove(mark uint64) ([][]byte, uint64, uint64, error) {
	f, err := os.Open(e.journalPath)
	if os.IsNotExist(err) {
		return nil, 0, 0, nil
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open journal %s: %w", e.journalPath, err)
	}
	defer f.Close()

	var (
		lines    [][]byte
		firstSeq uint64
		lastSeq  uint64
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		env, err := envelope.DecodeLine(raw)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("journal %s: %w", e.journalPath, err)
		}
		if env.Seq <= mark {
			continue
		}
		if len(lines) == 0 {
			firstSeq = env.Seq
		}
		lastSeq = env.Seq
		lines = append(lines, append(bytes.Clone(raw), '\n'))
	}
	if err := sc.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("read journal %s: %w", e.journalPath, err)
	}
	return lines, firstSeq, lastSeq, nil
}

// writeChunk writes one chunk file, syncs it, and returns its manifest
// entry.
func writeChunk(dir string, index int, lines [][]byte, firstSeq uint64) (ChunkEntry, error) {
	name := fmt.Sprintf("chunk-%06d.jsonl", index)
	path := filepath.Join(dir, name)

	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return ChunkEntry{}, fmt.Errorf("create chunk %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return ChunkEntry{}, fmt.Errorf("write chunk %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ChunkEntry{}, fmt.Errorf("sync chunk %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return ChunkEntry{}, fmt.Errorf("close chunk %s: %w", path, err)
	}

	return ChunkEntry{
		Filename:    name,
		ContentHash: HashBytes(buf.Bytes()),
		FirstSeq:    firstSeq,
		LastSeq:     firstSeq + uint64(len(lines)) - 1,
		Count:       len(lines),
	}, nil
}

// newBatchID builds a sortable, collision-free batch identifier:
// UTC timestamp plus a short random suffix.
func (e *Exporter) newBatchID() string {
	ts := e.now().UTC().Format("20060102T150405")
	suffix := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")[:8]
	return ts + "-" + suffix
}

// ReadMark returns the persisted high-water mark at path (0 when the
// file does not exist).
func ReadMark(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read export mark %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("export mark %s is garbled: %w", path, err)
	}
	return n, nil
}

func writeMark(path string, seq uint64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".exported-*")
	if err != nil {
		return fmt.Errorf("write export mark: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := fmt.Fprintf(tmp, "%d\n", seq); err != nil {
		tmp.Close()
		return fmt.Errorf("write export mark: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync export mark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export mark: %w", err)
	}
	return os.Rename(tmpName, path)
}
