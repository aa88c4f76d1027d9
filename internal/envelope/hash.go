package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEnvelope is the domain-separation prefix for envelope hashing.
// The version suffix enables future algorithm migration: a v2 record
// hashed under a new construction can never collide with a v1 record.
const DomainEnvelope = "evidlog/envelope/v1"

// GenesisHash is the prev_hash of the first envelope on any node.
var GenesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// hashWithDomain computes SHA-256 over domain + 0x00 + data.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalBytes returns the canonical serialization that envelope_hash
// is computed over: every field except envelope_hash itself, in RFC
// 8785 key order. Tags are always present in the canonical form (an
// absent tag set and an empty one hash identically).
func CanonicalBytes(env *Envelope) ([]byte, error) {
	tags := env.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	obj := map[string]any{
		"node_id":       env.NodeID,
		"seq":           env.Seq,
		"timestamp":     env.Timestamp,
		"evidence_type": env.EvidenceType,
		"payload":       payload,
		"prev_hash":     env.PrevHash,
		"tags":          tags,
		"source":        env.Source,
		"version":       env.Version,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope seq=%d: %w", env.Seq, err)
	}
	return canonical, nil
}

// Hash computes the content hash of an envelope. The result is stable
// across restarts and across nodes given the same field values.
func Hash(env *Envelope) (string, error) {
	canonical, err := CanonicalBytes(env)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainEnvelope, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(env *Envelope) string {
	h, err := Hash(env)
	if err != nil {
		panic(err)
	}
	return h
}
