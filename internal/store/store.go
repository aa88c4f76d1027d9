// Package store is the destination-side import index: the durable
// record of which (source node, batch) pairs have already been merged.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial imports table
const currentSchemaVersion = 1

// Store wraps the SQLite database holding the import index.
// Uses WAL mode so status readers never block an in-flight import.
type Store struct {
	db *sql.DB
}

// Open creates or opens the import index at the given path. Applies
// required pragmas and migrations automatically; safe to call
// repeatedly.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create import index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import index: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to import index: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY between the index write and status reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// ImportRecord is one merged batch as recorded in the index.
type ImportRecord struct {
	SourceNodeID  string
	BatchID       string
	ImportedAt    string
	ChunkCount    int
	EnvelopeCount int
}

// Has reports whether (sourceNodeID, batchID) is already recorded.
func (s *Store) Has(ctx context.Context, sourceNodeID, batchID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM imports WHERE source_node_id = ? AND batch_id = ?
	`, sourceNodeID, batchID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query import index: %w", err)
	}
	return true, nil
}

// Record inserts a merged batch. INSERT OR REPLACE makes a forced
// re-import overwrite the prior row instead of failing on the primary
// key.
func (s *Store) Record(ctx context.Context, rec ImportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO imports
		(source_node_id, batch_id, imported_at, chunk_count, envelope_count)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.SourceNodeID,
		rec.BatchID,
		rec.ImportedAt,
		rec.ChunkCount,
		rec.EnvelopeCount,
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// List returns every recorded import ordered by source node then
// batch identifier.
func (s *Store) List(ctx context.Context) ([]ImportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_node_id, batch_id, imported_at, chunk_count, envelope_count
		FROM imports
		ORDER BY source_node_id, batch_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		if err := rows.Scan(&rec.SourceNodeID, &rec.BatchID, &rec.ImportedAt, &rec.ChunkCount, &rec.EnvelopeCount); err != nil {
			return nil, fmt.Errorf("scan import row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return out, nil
}
