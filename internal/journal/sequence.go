package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Sequence allocates the per-node monotonic seq values, starting at 1.
//
// The journal tail is the source of truth: LoadSequence is seeded with
// the last seq actually present in the journal, and the on-disk
// counter file is only a cache. If the two disagree after a crash
// (counter persisted but envelope write lost, or vice versa), the
// counter file is repaired to match the tail here.
type Sequence struct {
	path string
	last atomic.Uint64
}

// LoadSequence opens the counter cache at path, reconciling it against
// tailSeq, the highest seq recovered from the journal itself. A
// missing or stale cache is rewritten; a cache ahead of the tail is
// rolled back (the envelope it counted never became durable).
func LoadSequence(path string, tailSeq uint64) (*Sequence, error) {
	s := &Sequence{path: path}
	s.last.Store(tailSeq)

	cached, err := readCounter(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence counter %s: %w", path, err)
	}
	if cached != tailSeq {
		if err := writeCounter(path, tailSeq); err != nil {
			return nil, fmt.Errorf("repair sequence counter %s: %w", path, err)
		}
	}
	return s, nil
}

// Next returns the seq value the next envelope will carry. It does NOT
// advance any state: allocation only becomes permanent via Commit,
// after the envelope bytes are durable. A failed append therefore
// hands out the same value again on retry, and a crash between
// envelope write and Commit is healed by LoadSequence on restart.
func (s *Sequence) Next() uint64 {
	return s.last.Load() + 1
}

// Current returns the last committed seq (0 for a fresh node).
func (s *Sequence) Current() uint64 {
	return s.last.Load()
}

// Commit records seq as durably written and refreshes the counter
// cache. The cache write is advisory: if it fails, the next
// LoadSequence recovers from the journal tail, so the error is
// reported but the in-memory state still advances.
func (s *Sequence) Commit(seq uint64) error {
	s.last.Store(seq)
	if err := writeCounter(s.path, seq); err != nil {
		return fmt.Errorf("persist sequence counter %s: %w", s.path, err)
	}
	return nil
}

func readCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		// A garbled cache is not fatal - the journal tail is
		// authoritative and LoadSequence rewrites the file.
		return 0, nil
	}
	return n, nil
}

func writeCounter(path string, seq uint64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".seq-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := fmt.Fprintf(tmp, "%d\n", seq); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
