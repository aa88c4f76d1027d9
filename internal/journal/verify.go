package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledgerworks/evidlog/internal/envelope"
)

// Verifier walks a hash chain incrementally, envelope by envelope. It
// carries the expected next position so callers can verify a chain
// split across multiple inputs (a journal file, or the ordered chunk
// files of an export batch).
//
// The zero state expects genesis: seq 1 linked to GenesisHash. Use
// NewVerifier for that, or seed the fields to resume mid-chain.
type Verifier struct {
	// NodeID is the chain owner; every envelope must carry it.
	NodeID string

	// NextSeq is the seq the next envelope must carry.
	NextSeq uint64

	// PrevHash is the envelope_hash the next envelope must link to.
	PrevHash string

	// Line counts records seen so far across all inputs (1-based
	// positions in ChainError).
	Line int

	// Count is the number of envelopes verified so far.
	Count uint64
}

// NewVerifier returns a Verifier positioned at genesis for nodeID.
func NewVerifier(nodeID string) *Verifier {
	return &Verifier{
		NodeID:   nodeID,
		NextSeq:  1,
		PrevHash: envelope.GenesisHash,
	}
}

// Check verifies one envelope against the expected chain position and
// advances the state. It returns nil on success or the violated
// invariant as a *ChainError. The state does not advance past a
// failure, so the first error is stable.
func (v *Verifier) Check(env *envelope.Envelope) *ChainError {
	v.Line++

	if err := envelope.Validate(env); err != nil {
		return &ChainError{
			Code:    ErrCodeMalformedLine,
			Message: err.Error(),
			NodeID:  v.NodeID,
			Seq:     env.Seq,
			Line:    v.Line,
		}
	}

	if env.NodeID != v.NodeID {
		return &ChainError{
			Code:    ErrCodeNodeMismatch,
			Message: fmt.Sprintf("envelope belongs to node %q", env.NodeID),
			NodeID:  v.NodeID,
			Seq:     env.Seq,
			Line:    v.Line,
		}
	}

	if env.Seq != v.NextSeq {
		code := ErrCodeSequenceGap
		msg := fmt.Sprintf("expected seq %d, found %d", v.NextSeq, env.Seq)
		if env.Seq < v.NextSeq {
			code = ErrCodeDuplicateSeq
			msg = fmt.Sprintf("seq %d repeats (expected %d)", env.Seq, v.NextSeq)
		}
		return &ChainError{Code: code, Message: msg, NodeID: v.NodeID, Seq: env.Seq, Line: v.Line}
	}

	if env.PrevHash != v.PrevHash {
		return &ChainError{
			Code:    ErrCodeBrokenLink,
			Message: fmt.Sprintf("prev_hash %s does not match predecessor hash %s", abbrev(env.PrevHash), abbrev(v.PrevHash)),
			NodeID:  v.NodeID,
			Seq:     env.Seq,
			Line:    v.Line,
		}
	}

	computed, err := envelope.Hash(env)
	if err != nil {
		return &ChainError{
			Code:    ErrCodeMalformedLine,
			Message: fmt.Sprintf("cannot canonicalize: %v", err),
			NodeID:  v.NodeID,
			Seq:     env.Seq,
			Line:    v.Line,
		}
	}
	if computed != env.EnvelopeHash {
		return &ChainError{
			Code:    ErrCodeHashMismatch,
			Message: fmt.Sprintf("envelope_hash %s does not match recomputed %s", abbrev(env.EnvelopeHash), abbrev(computed)),
			NodeID:  v.NodeID,
			Seq:     env.Seq,
			Line:    v.Line,
		}
	}

	v.NextSeq = env.Seq + 1
	v.PrevHash = env.EnvelopeHash
	v.Count++
	return nil
}

// VerifyReader feeds every line of r through the verifier. Lines that
// do not parse at all are reported as MALFORMED_LINE with their
// position.
func (v *Verifier) VerifyReader(r io.Reader) *ChainError {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			v.Line++
			continue
		}
		env, err := envelope.DecodeLine(raw)
		if err != nil {
			v.Line++
			return &ChainError{
				Code:    ErrCodeMalformedLine,
				Message: err.Error(),
				NodeID:  v.NodeID,
				Line:    v.Line,
			}
		}
		if cerr := v.Check(env); cerr != nil {
			return cerr
		}
	}
	if err := sc.Err(); err != nil {
		v.Line++
		return &ChainError{
			Code:    ErrCodeMalformedLine,
			Message: fmt.Sprintf("read: %v", err),
			NodeID:  v.NodeID,
			Line:    v.Line,
		}
	}
	return nil
}

// VerifyFile verifies the full chain in the journal at path. Returns
// (true, nil) when every invariant holds, or (false, *ChainError) at
// the first violation. An empty or missing journal is trivially valid.
func VerifyFile(path, nodeID string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	v := NewVerifier(nodeID)
	if cerr := v.VerifyReader(f); cerr != nil {
		return false, cerr
	}
	return true, nil
}

func abbrev(hash string) string {
	if len(hash) > 12 {
		return hash[:12] + "…"
	}
	return hash
}
