package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// ManifestFilename is the manifest's name inside every batch directory.
const ManifestFilename = "manifest.json"

// ManifestVersion is the batch manifest schema version.
const ManifestVersion = "v1"

// ChunkEntry describes one chunk file in a batch: a contiguous slice
// of envelopes plus the SHA-256 of the file's exact bytes. Seq bounds
// make integrity errors actionable without opening the chunk.
type ChunkEntry struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	FirstSeq    uint64 `json:"first_seq"`
	LastSeq     uint64 `json:"last_seq"`
	Count       int    `json:"count"`
}

// Manifest is the integrity record written last into a batch
// directory. A batch is immutable once its manifest exists.
type Manifest struct {
	Version    string       `json:"version"`
	NodeID     string       `json:"node_id"`
	BatchID    string       `json:"batch_id"`
	ExportedAt string       `json:"exported_at"`
	Chunks     []ChunkEntry `json:"chunks"`
}

// HashBytes computes the chunk content hash over raw file bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteManifest serializes the manifest to path and syncs it. Called
// only after every chunk it references is already durable, so no
// reader ever observes a manifest pointing at missing content.
func WriteManifest(path string, m *Manifest) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create manifest %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync manifest %s: %w", path, err)
	}
	return f.Close()
}

// ReadManifest parses the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Chunks) == 0 {
		return nil, fmt.Errorf("manifest %s lists no chunks", path)
	}
	return &m, nil
}
