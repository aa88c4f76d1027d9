// Package config resolves the on-disk layout of an evidlog storage
// root and loads optional settings from an evidlog.yaml file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the maximum envelopes per export chunk file.
const DefaultChunkSize = 1000

// Config holds the settings read from evidlog.yaml.
type Config struct {
	// Root is the storage root directory. Flag values override it.
	Root string `yaml:"root"`

	// ChunkSize caps envelopes per export chunk file.
	ChunkSize int `yaml:"chunk_size"`
}

// Load reads the config file at path. A missing file is not an error:
// defaults apply. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := &Config{ChunkSize: DefaultChunkSize}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return cfg, nil
}

// Layout maps the logical directory layout onto a storage root. All
// ledger state for one node (and, on destinations, the federated store
// plus import index) lives under Root; ownership is strictly
// partitioned by file, so no two components write the same path.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// IdentityPath is the node identity file.
func (l Layout) IdentityPath() string {
	return filepath.Join(l.Root, "node.id")
}

// JournalPath is the per-node append-only evidence log.
func (l Layout) JournalPath(nodeID string) string {
	return filepath.Join(l.Root, "journal", nodeID+".log")
}

// CounterPath is the per-node sequence counter cache.
func (l Layout) CounterPath(nodeID string) string {
	return filepath.Join(l.Root, "state", nodeID+".seq")
}

// ExportMarkPath is the per-node "last exported seq" high-water mark.
func (l Layout) ExportMarkPath(nodeID string) string {
	return filepath.Join(l.Root, "state", nodeID+".exported")
}

// ExportsDir holds one batch directory per export operation.
func (l Layout) ExportsDir() string {
	return filepath.Join(l.Root, "exports")
}

// FederatedDir is the destination-side store of imported chunks,
// namespaced by source node and batch identifier.
func (l Layout) FederatedDir() string {
	return filepath.Join(l.Root, "federated")
}

// BatchDestDir is where a verified batch's chunks are merged to.
func (l Layout) BatchDestDir(sourceNodeID, batchID string) string {
	return filepath.Join(l.FederatedDir(), sourceNodeID, batchID)
}

// ImportIndexPath is the destination-side idempotency index database.
func (l Layout) ImportIndexPath() string {
	return filepath.Join(l.Root, "imports.db")
}
