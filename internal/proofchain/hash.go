// Package proofchain implements the append-only, content-addressed event
// log: per-correlationId hash chains, verification, and the ChainConflict
// retry contract.
package proofchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"invarity/internal/types"
)

// genesisPrevHash is the 32 zero bytes substituted for previousHash on the
// first event of a correlationId.
var genesisPrevHash = make([]byte, sha256.Size)

// canonicalEventBytes builds the sorted-key JSON encoding of an event minus
// EventHash and Signature, the exact byte representation that gets hashed.
// Field order in the struct doesn't matter: we round-trip through a
// generic map so that key ordering is alphabetical and stable regardless of
// how the Go struct tags are declared.
func canonicalEventBytes(e *types.ProofEvent) ([]byte, error) {
	clone := *e
	clone.EventHash = ""
	clone.Signature = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return nil, err
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return canonicalMarshal(normalized)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return canonicalMarshalMap(val)
	case []any:
		return canonicalMarshalSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalMarshalMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, keyBytes...)
		out = append(out, ':')

		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	out = append(out, '}')
	return out, nil
}

func canonicalMarshalSlice(s []any) ([]byte, error) {
	out := []byte("[")
	for i, item := range s {
		if i > 0 {
			out = append(out, ',')
		}
		itemBytes, err := canonicalMarshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, itemBytes...)
	}
	out = append(out, ']')
	return out, nil
}

// lengthPrefixed appends a 4-byte big-endian length prefix followed by b,
// a domain-separation technique that prevents ambiguous concatenation
// across field boundaries.
func lengthPrefixed(buf []byte, b []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(b)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, b...)
}

// ComputeEventHash computes eventHash = SHA256(lengthPrefixed(canonical) ||
// previousHash-or-32-zero-bytes). Exported so out-of-process Store
// implementations (pgstore) can compute the same hash the in-memory store
// and verifyChain use, without duplicating the canonicalization logic.
func ComputeEventHash(e *types.ProofEvent, previousHash string) (string, error) {
	return computeEventHash(e, previousHash)
}

func computeEventHash(e *types.ProofEvent, previousHash string) (string, error) {
	canonical, err := canonicalEventBytes(e)
	if err != nil {
		return "", err
	}

	var prevBytes []byte
	if previousHash == "" {
		prevBytes = genesisPrevHash
	} else {
		prevBytes, err = hex.DecodeString(previousHash)
		if err != nil {
			return "", err
		}
	}

	buf := make([]byte, 0, len(canonical)+4+len(prevBytes))
	buf = lengthPrefixed(buf, canonical)
	buf = append(buf, prevBytes...)

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
