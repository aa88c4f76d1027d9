// Package journal implements the per-node append-only evidence log:
// crash-safe appends, lazy reads, sequence recovery from the log tail,
// and hash-chain verification.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerworks/evidlog/internal/envelope"
)

// maxLineBytes bounds a single journal line. Payloads are small
// structured records; anything larger is a malformed line, not
// evidence.
const maxLineBytes = 4 << 20

// Journal is the append-only writer/reader over one node's log file.
//
// Single-writer discipline: exactly one Journal instance appends per
// node. Readers (Scan, Verify, export) may run concurrently with the
// writer because Append syncs the full line before returning - a
// completed read observes only whole envelopes.
type Journal struct {
	path   string
	nodeID string
	file   *os.File
	seq    *Sequence

	// lastHash is the envelope_hash of the newest durable envelope,
	// or envelope.GenesisHash for an empty journal.
	lastHash string

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// Open opens (or creates) the journal at journalPath for the given
// node, recovering sequence and chain-head state from the log tail.
// counterPath is the sequence cache file; see Sequence.
//
// A trailing torn line (no newline terminator - the footprint of a
// crash mid-write) is truncated away on open. Those bytes were never
// acknowledged as an envelope, so removing them does not violate the
// append-only contract.
func Open(journalPath, counterPath, nodeID string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(journalPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	tailSeq, tailHash, err := recoverTail(journalPath)
	if err != nil {
		return nil, err
	}

	seq, err := LoadSequence(counterPath, tailSeq)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", journalPath, err)
	}

	return &Journal{
		path:     journalPath,
		nodeID:   nodeID,
		file:     f,
		seq:      seq,
		lastHash: tailHash,
		now:      time.Now,
	}, nil
}

// Close closes the underlying log file. Append must not be called
// afterwards.
func (j *Journal) Close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// NodeID returns the node identity this journal belongs to.
func (j *Journal) NodeID() string {
	return j.nodeID
}

// Head returns the current chain head: last committed seq and the
// envelope_hash the next append will link to.
func (j *Journal) Head() (uint64, string) {
	return j.seq.Current(), j.lastHash
}

// Append constructs, hashes, and durably writes one envelope. The
// envelope's seq, prev_hash, and envelope_hash are computed here,
// atomically with respect to the previous write (single-writer
// discipline). The line is synced to disk before Append returns, so a
// success return means the envelope is durable and the chain head has
// advanced.
//
// On a write error the journal file is truncated back to its prior
// length and ErrWriteFailure is returned; the sequence state does not
// advance, so a retry reuses the same seq value.
func (j *Journal) Append(evType envelope.EvidenceType, payload map[string]any, tags []string, source string) (*envelope.Envelope, error) {
	if j.file == nil {
		return nil, fmt.Errorf("%w: journal is closed", ErrWriteFailure)
	}
	if !evType.Valid() {
		return nil, fmt.Errorf("append: unknown evidence_type %q", evType)
	}
	if source == "" {
		return nil, fmt.Errorf("append: source is empty")
	}

	env := &envelope.Envelope{
		NodeID:       j.nodeID,
		Seq:          j.seq.Next(),
		Timestamp:    envelope.NewTimestamp(j.now()),
		EvidenceType: evType,
		Payload:      payload,
		PrevHash:     j.lastHash,
		Tags:         tags,
		Source:       source,
		Version:      envelope.Version,
	}

	hash, err := envelope.Hash(env)
	if err != nil {
		// Unhashable payload (floats, nulls, unsupported types).
		// Nothing was written; seq state is untouched.
		return nil, fmt.Errorf("append: %w", err)
	}
	env.EnvelopeHash = hash

	line, err := envelope.EncodeLine(env)
	if err != nil {
		return nil, fmt.Errorf("append: %w", err)
	}

	offset, err := j.file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: seek: %v", ErrWriteFailure, err)
	}

	if _, err := j.file.Write(line); err != nil {
		j.rollback(offset)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := j.file.Sync(); err != nil {
		j.rollback(offset)
		return nil, fmt.Errorf("%w: sync: %v", ErrWriteFailure, err)
	}

	// The envelope is durable; the counter cache update below is
	// advisory (LoadSequence recovers from the tail regardless).
	j.lastHash = env.EnvelopeHash
	_ = j.seq.Commit(env.Seq)
	return env, nil
}

// rollback removes partially written bytes after a failed append so
// the next append starts from a clean line boundary.
func (j *Journal) rollback(offset int64) {
	_ = j.file.Truncate(offset)
	_, _ = j.file.Seek(0, io.SeekEnd)
}

// Scan reads envelopes in seq order, invoking fn for each. It is lazy
// and bounded: only lines durable at call time are visited, and
// appends racing with the scan may or may not be seen. Returning an
// error from fn stops the scan and propagates the error.
func (j *Journal) Scan(fn func(*envelope.Envelope) error) error {
	return ScanFile(j.path, fn)
}

// ReadAll loads every envelope currently in the journal. Prefer Scan
// for large journals.
func (j *Journal) ReadAll() ([]*envelope.Envelope, error) {
	var out []*envelope.Envelope
	err := j.Scan(func(env *envelope.Envelope) error {
		out = append(out, env)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify walks the journal from genesis, recomputing every hash link.
// It returns (true, nil) for a valid chain, or (false, err) where err
// is the first violated invariant as a *ChainError. Read-only: a
// broken chain is reported, never repaired.
func (j *Journal) Verify() (bool, error) {
	return VerifyFile(j.path, j.nodeID)
}

// ScanFile is Scan over an arbitrary journal file, used by readers
// that do not hold an open Journal (verification tooling, import-side
// checks). A missing file yields zero envelopes.
func ScanFile(path string, fn func(*envelope.Envelope) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		env, err := envelope.DecodeLine(raw)
		if err != nil {
			return fmt.Errorf("journal %s line %d: %w", path, line, err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read journal %s: %w", path, err)
	}
	return nil
}

// recoverTail scans the journal for the last complete envelope and
// returns its seq and hash (0, GenesisHash for an empty or missing
// journal). If the file ends in a torn line, the torn bytes are
// truncated so the next append lands on a line boundary.
func recoverTail(path string) (uint64, string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, envelope.GenesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	var (
		lastSeq  uint64
		lastHash = envelope.GenesisHash
		lineEnd  int64
	)

	r := bufio.NewReaderSize(f, 64*1024)
	var offset int64
	for {
		raw, err := r.ReadBytes('\n')
		offset += int64(len(raw))
		if err == io.EOF {
			if len(raw) > 0 {
				// Torn final line: drop it below.
				break
			}
			break
		}
		if err != nil {
			return 0, "", fmt.Errorf("read journal %s: %w", path, err)
		}

		lineEnd = offset
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		env, derr := envelope.DecodeLine(raw)
		if derr != nil {
			// Leave malformed interior lines in place for Verify to
			// report; recovery only needs the newest parseable tail.
			continue
		}
		lastSeq = env.Seq
		lastHash = env.EnvelopeHash
	}

	info, err := f.Stat()
	if err != nil {
		return 0, "", fmt.Errorf("stat journal %s: %w", path, err)
	}
	if info.Size() > lineEnd {
		if err := os.Truncate(path, lineEnd); err != nil {
			return 0, "", fmt.Errorf("truncate torn journal tail %s: %w", path, err)
		}
	}

	return lastSeq, lastHash, nil
}
