package merge

import (
	"errors"
	"fmt"
)

// IntegrityError rejects an entire batch: a chunk's bytes do not match
// the manifest, a record violates the schema, or the chunk's internal
// chain is inconsistent. Nothing is merged when one is returned.
type IntegrityError struct {
	// SourceNodeID and BatchID identify the offending batch.
	SourceNodeID string
	BatchID      string

	// Chunk names the offending chunk file, when one is known.
	Chunk string

	// Message describes the violation.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	pos := fmt.Sprintf("batch %s from node %s", e.BatchID, e.SourceNodeID)
	if e.Chunk != "" {
		pos += ", chunk " + e.Chunk
	}
	if e.Err != nil {
		return fmt.Sprintf("integrity failure (%s): %s: %v", pos, e.Message, e.Err)
	}
	return fmt.Sprintf("integrity failure (%s): %s", pos, e.Message)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is an IntegrityError,
// unwrapping as needed.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
