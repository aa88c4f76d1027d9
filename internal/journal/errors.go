package journal

import (
	"errors"
	"fmt"
)

// ErrWriteFailure indicates an append could not be made durable. The
// caller may retry; a failed append never leaves a valid envelope in
// the journal and never advances the durable sequence state.
var ErrWriteFailure = errors.New("journal write failure")

// ChainErrorCode categorizes chain verification failures.
type ChainErrorCode string

const (
	// ErrCodeMalformedLine indicates a journal line that does not parse
	// as an envelope.
	ErrCodeMalformedLine ChainErrorCode = "MALFORMED_LINE"

	// ErrCodeNodeMismatch indicates an envelope attributed to a
	// different node than the chain being verified.
	ErrCodeNodeMismatch ChainErrorCode = "NODE_MISMATCH"

	// ErrCodeSequenceGap indicates a skipped seq value.
	ErrCodeSequenceGap ChainErrorCode = "SEQUENCE_GAP"

	// ErrCodeDuplicateSeq indicates a seq value that appears twice.
	ErrCodeDuplicateSeq ChainErrorCode = "DUPLICATE_SEQ"

	// ErrCodeBrokenLink indicates prev_hash does not match the hash of
	// the preceding envelope.
	ErrCodeBrokenLink ChainErrorCode = "BROKEN_LINK"

	// ErrCodeHashMismatch indicates envelope_hash does not match the
	// recomputed hash of the envelope's canonical bytes.
	ErrCodeHashMismatch ChainErrorCode = "HASH_MISMATCH"
)

// ChainError reports the first violated invariant found while walking
// a chain, with enough position to be actionable. Verification never
// repairs: silently fixing a broken chain would mask tampering.
type ChainError struct {
	// Code identifies the violated invariant.
	Code ChainErrorCode

	// Message is a human-readable description.
	Message string

	// NodeID identifies the chain being verified.
	NodeID string

	// Seq is the sequence number of the offending envelope, when one
	// could be parsed.
	Seq uint64

	// Line is the 1-based line number of the offending record.
	Line int
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("%s: %s (node=%s, seq=%d, line=%d)", e.Code, e.Message, e.NodeID, e.Seq, e.Line)
	}
	return fmt.Sprintf("%s: %s (node=%s, line=%d)", e.Code, e.Message, e.NodeID, e.Line)
}

// IsChainError reports whether err is a ChainError, unwrapping as
// needed.
func IsChainError(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce)
}
