package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainOperation = "docsync/operation/v1"
	DomainAction    = "docsync/action/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationHash computes the content hash of an operation.
//
// The hash covers the position (index, skip), the timestamp and the action.
// Operation.ID and Operation.Hash itself are excluded, so a reshuffled
// operation gets a new hash only when the reactor rewrites it.
func OperationHash(op Operation) (string, error) {
	obj := map[string]any{
		"index":          op.Index,
		"skip":           op.Skip,
		"timestampUtcMs": op.TimestampUtcMs,
		"action":         op.Action,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OperationHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// ActionID derives a stable action identifier from its content.
// Used when an action arrives without an id.
func ActionID(a Action) (string, error) {
	canonical, err := MarshalCanonical(a)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAction, canonical)[:32], nil
}

// MustOperationHash is like OperationHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustOperationHash(op Operation) string {
	h, err := OperationHash(op)
	if err != nil {
		panic(err)
	}
	return h
}
