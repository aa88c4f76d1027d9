package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Version is the envelope schema version written into every record.
// Bump only with a migration plan: historical journals are verified
// against the rules of the version they were written under.
const Version = "v1"

// EvidenceType is the closed enumeration of record categories a
// producer may log. The ledger treats the payload as opaque; the type
// exists so downstream consumers can filter without parsing payloads.
type EvidenceType string

const (
	TypeTelemetrySnapshot EvidenceType = "telemetry_snapshot"
	TypeHeartbeat         EvidenceType = "heartbeat"
	TypeSystemEvent       EvidenceType = "system_event"
	TypeAuditEntry        EvidenceType = "audit_entry"
	TypeTaskCompletion    EvidenceType = "task_completion"
	TypeMetricSample      EvidenceType = "metric_sample"
	TypeErrorTrace        EvidenceType = "error_trace"
	TypeDirective         EvidenceType = "directive"
	TypeChainAnchor       EvidenceType = "chain_anchor"
)

// AllTypes lists every valid EvidenceType, in declaration order.
var AllTypes = []EvidenceType{
	TypeTelemetrySnapshot,
	TypeHeartbeat,
	TypeSystemEvent,
	TypeAuditEntry,
	TypeTaskCompletion,
	TypeMetricSample,
	TypeErrorTrace,
	TypeDirective,
	TypeChainAnchor,
}

// Valid reports whether t is a member of the closed enumeration.
func (t EvidenceType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Envelope is one immutable ledger record. An envelope is constructed
// exactly once by Journal.Append, which fills Seq, PrevHash, and
// EnvelopeHash; it is never mutated afterwards.
//
// Timestamp is informational only - Seq is the authoritative order.
type Envelope struct {
	NodeID       string         `json:"node_id"`
	Seq          uint64         `json:"seq"`
	Timestamp    string         `json:"timestamp"`
	EvidenceType EvidenceType   `json:"evidence_type"`
	Payload      map[string]any `json:"payload"`
	PrevHash     string         `json:"prev_hash"`
	EnvelopeHash string         `json:"envelope_hash"`
	Tags         []string       `json:"tags,omitempty"`
	Source       string         `json:"source"`
	Version      string         `json:"version"`
}

// NewTimestamp returns the wall-clock timestamp string for an envelope
// created now: RFC 3339 with nanoseconds, always UTC.
func NewTimestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

// EncodeLine serializes an envelope as a single JSONL line, trailing
// newline included. This is the journal and chunk wire form; the
// canonical form used for hashing is produced by CanonicalBytes.
func EncodeLine(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope seq=%d: %w", env.Seq, err)
	}
	return buf.Bytes(), nil
}

// DecodeLine parses one JSONL line into an Envelope. Payload numbers
// are decoded as json.Number so integer payload values survive a
// decode/canonicalize round trip without float conversion.
func DecodeLine(line []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope line: %w", err)
	}
	return &env, nil
}

// Validate checks structural well-formedness of a single envelope.
// It does not check chain linkage - that is Journal.Verify's job.
func Validate(env *Envelope) error {
	if env.NodeID == "" {
		return fmt.Errorf("envelope: node_id is empty")
	}
	if env.Seq == 0 {
		return fmt.Errorf("envelope: seq must be >= 1")
	}
	if !env.EvidenceType.Valid() {
		return fmt.Errorf("envelope: unknown evidence_type %q", env.EvidenceType)
	}
	if env.Source == "" {
		return fmt.Errorf("envelope: source is empty")
	}
	if env.Version != Version {
		return fmt.Errorf("envelope: unsupported version %q (want %q)", env.Version, Version)
	}
	if !isHexDigest(env.PrevHash) {
		return fmt.Errorf("envelope: prev_hash %q is not a SHA-256 hex digest", env.PrevHash)
	}
	if !isHexDigest(env.EnvelopeHash) {
		return fmt.Errorf("envelope: envelope_hash %q is not a SHA-256 hex digest", env.EnvelopeHash)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		return fmt.Errorf("envelope: timestamp %q is not RFC 3339: %w", env.Timestamp, err)
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
