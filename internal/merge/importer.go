// Package merge imports export batches into a destination's federated
// store: all-or-nothing verification, idempotent merge keyed by
// (source node, batch), index write last.
package merge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledgerworks/evidlog/internal/config"
	"github.com/ledgerworks/evidlog/internal/envelope"
	"github.com/ledgerworks/evidlog/internal/export"
	"github.com/ledgerworks/evidlog/internal/journal"
	"github.com/ledgerworks/evidlog/internal/schema"
	"github.com/ledgerworks/evidlog/internal/store"
)

// Status distinguishes a merge that changed the destination from the
// idempotent no-op, so callers can observe the difference.
type Status string

const (
	// StatusMerged means the batch was verified and copied in.
	StatusMerged Status = "merged"

	// StatusAlreadyImported means the index already held this batch
	// and nothing was touched. Not an error.
	StatusAlreadyImported Status = "already_imported"
)

// Result reports the outcome of one ImportBatch call.
type Result struct {
	Status        Status `json:"status"`
	SourceNodeID  string `json:"source_node_id"`
	BatchID       string `json:"batch_id"`
	ChunkCount    int    `json:"chunk_count"`
	EnvelopeCount int    `json:"envelope_count"`
	DestDir       string `json:"dest_dir,omitempty"`
}

// ImportBatch merges the batch directory at batchDir into the
// destination rooted by layout.
//
// State machine per batch: unseen -> verified -> merged. Verification
// requires every chunk's content hash to match the manifest, every
// record to pass the v1 schema, and each chunk's internal chain to be
// consistent; any failure rejects the whole batch with an
// IntegrityError and merges nothing. The import index write is the
// last step, so a crash mid-copy leaves the batch "unseen" and the
// operation safely retriable.
func ImportBatch(ctx context.Context, batchDir string, layout config.Layout, force bool) (*Result, error) {
	manifest, err := export.ReadManifest(filepath.Join(batchDir, export.ManifestFilename))
	if err != nil {
		return nil, err
	}

	sourceNodeID, batchID := batchIdentity(manifest, batchDir)
	if sourceNodeID == "" || batchID == "" {
		return nil, fmt.Errorf("batch %s: cannot determine source node and batch identifier", batchDir)
	}

	chunks, envelopeCount, err := verifyBatch(batchDir, manifest, sourceNodeID, batchID)
	if err != nil {
		return nil, err
	}

	idx, err := store.Open(layout.ImportIndexPath())
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	seen, err := idx.Has(ctx, sourceNodeID, batchID)
	if err != nil {
		return nil, err
	}
	if seen && !force {
		return &Result{
			Status:        StatusAlreadyImported,
			SourceNodeID:  sourceNodeID,
			BatchID:       batchID,
			ChunkCount:    len(manifest.Chunks),
			EnvelopeCount: envelopeCount,
		}, nil
	}

	destDir := layout.BatchDestDir(sourceNodeID, batchID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}

	for name, data := range chunks {
		if err := copyFileSync(filepath.Join(destDir, name), data); err != nil {
			return nil, fmt.Errorf("merge chunk %s: %w", name, err)
		}
	}
	manifestBytes, err := os.ReadFile(filepath.Join(batchDir, export.ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("copy manifest: %w", err)
	}
	if err := copyFileSync(filepath.Join(destDir, export.ManifestFilename), manifestBytes); err != nil {
		return nil, fmt.Errorf("copy manifest: %w", err)
	}

	// Chunks are durable; recording the import makes the merge
	// observable and the batch permanently idempotent.
	err = idx.Record(ctx, store.ImportRecord{
		SourceNodeID:  sourceNodeID,
		BatchID:       batchID,
		ImportedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		ChunkCount:    len(manifest.Chunks),
		EnvelopeCount: envelopeCount,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Status:        StatusMerged,
		SourceNodeID:  sourceNodeID,
		BatchID:       batchID,
		ChunkCount:    len(manifest.Chunks),
		EnvelopeCount: envelopeCount,
		DestDir:       destDir,
	}, nil
}

// verifyBatch checks every chunk before anything is copied. Returns
// the verified chunk bytes keyed by filename plus the total envelope
// count.
func verifyBatch(batchDir string, manifest *export.Manifest, sourceNodeID, batchID string) (map[string][]byte, int, error) {
	chunks := make(map[string][]byte, len(manifest.Chunks))
	total := 0

	for _, entry := range manifest.Chunks {
		if entry.Filename != filepath.Base(entry.Filename) {
			return nil, 0, &IntegrityError{
				SourceNodeID: sourceNodeID,
				BatchID:      batchID,
				Chunk:        entry.Filename,
				Message:      "chunk filename escapes the batch directory",
			}
		}

		data, err := os.ReadFile(filepath.Join(batchDir, entry.Filename))
		if err != nil {
			return nil, 0, &IntegrityError{
				SourceNodeID: sourceNodeID,
				BatchID:      batchID,
				Chunk:        entry.Filename,
				Message:      "chunk file missing or unreadable",
				Err:          err,
			}
		}

		if got := export.HashBytes(data); got != entry.ContentHash {
			return nil, 0, &IntegrityError{
				SourceNodeID: sourceNodeID,
				BatchID:      batchID,
				Chunk:        entry.Filename,
				Message:      fmt.Sprintf("content hash %s does not match manifest hash %s", got[:12], entry.ContentHash[:min(12, len(entry.ContentHash))]),
			}
		}

		count, err := verifyChunkRecords(data, sourceNodeID)
		if err != nil {
			return nil, 0, &IntegrityError{
				SourceNodeID: sourceNodeID,
				BatchID:      batchID,
				Chunk:        entry.Filename,
				Message:      "chunk records failed verification",
				Err:          err,
			}
		}
		if entry.Count != 0 && count != entry.Count {
			return nil, 0, &IntegrityError{
				SourceNodeID: sourceNodeID,
				BatchID:      batchID,
				Chunk:        entry.Filename,
				Message:      fmt.Sprintf("chunk holds %d envelopes, manifest says %d", count, entry.Count),
			}
		}

		chunks[entry.Filename] = data
		total += count
	}

	return chunks, total, nil
}

// verifyChunkRecords schema-validates every line and checks the
// chunk's internal chain. A chunk may start mid-chain, so the verifier
// is seeded from the first record's own position; cross-chunk and
// cross-batch linkage is the destination auditor's concern.
func verifyChunkRecords(data []byte, sourceNodeID string) (int, error) {
	var v *journal.Verifier

	count := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		if err := schema.ValidateLine(raw); err != nil {
			return 0, err
		}

		env, err := envelope.DecodeLine(raw)
		if err != nil {
			return 0, err
		}

		if v == nil {
			v = &journal.Verifier{
				NodeID:   sourceNodeID,
				NextSeq:  env.Seq,
				PrevHash: env.PrevHash,
			}
		}
		if cerr := v.Check(env); cerr != nil {
			return 0, cerr
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("chunk contains no envelopes")
	}
	return count, nil
}

// batchIdentity resolves the source node and batch identifier from the
// manifest, falling back to the batch-<node>-<ts>-<suffix> directory
// naming convention for manifests predating those fields.
func batchIdentity(manifest *export.Manifest, batchDir string) (string, string) {
	sourceNodeID := manifest.NodeID
	batchID := manifest.BatchID
	if sourceNodeID != "" && batchID != "" {
		return sourceNodeID, batchID
	}

	name := filepath.Base(filepath.Clean(batchDir))
	trimmed := strings.TrimPrefix(name, "batch-")
	parts := strings.Split(trimmed, "-")
	// Batch IDs are the trailing "<timestamp>-<suffix>" pair; node IDs
	// may themselves contain hyphens.
	if len(parts) >= 3 {
		if batchID == "" {
			batchID = strings.Join(parts[len(parts)-2:], "-")
		}
		if sourceNodeID == "" {
			sourceNodeID = strings.Join(parts[:len(parts)-2], "-")
		}
	}
	return sourceNodeID, batchID
}

// copyFileSync writes data and syncs before returning, keeping the
// merged chunk durable before the index references it.
func copyFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
