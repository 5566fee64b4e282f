// Package provenance computes the deterministic integrity hashes that back
// the decision audit trail: a Decision hash, a DecisionChain hash derived
// from its node hashes, and an evidence-package hash derived from item
// hashes. All three follow the same shape — SHA-256 over a sorted
// concatenation of canonical inputs — so recomputation from persisted rows
// is a pure function of those rows.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DecisionHash derives the hash carried on every Decision from its
// canonical identity fields. Distinct signals must produce distinct hashes;
// an idempotent replay recomputes the identical hash from the identical
// inputs.
func DecisionHash(signalID, profileID, symbol, direction, outcome string, timestamp time.Time) string {
	canonical := strings.Join([]string{
		signalID,
		profileID,
		symbol,
		direction,
		outcome,
		timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NodeHash derives one DecisionChain node's hash from its immutable fields.
func NodeHash(id, parentID, nodeType, rationale string, timestamp time.Time) string {
	canonical := strings.Join([]string{id, parentID, nodeType, rationale, timestamp.UTC().Format(time.RFC3339Nano)}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ChainHash derives a DecisionChain's hash as the SHA-256 of the sorted
// concatenation of its node hashes. Sorting makes the chain hash
// independent of any incidental map/slice ordering a caller might
// introduce when reassembling nodes, while the per-node hash still encodes
// the node's position via its parent pointer.
func ChainHash(nodeHashes []string) string {
	return sortedConcatHash(nodeHashes)
}

// PackageHash derives an evidence package's hash as the SHA-256 of the
// sorted concatenation of its item hashes, mirroring ChainHash.
func PackageHash(itemHashes []string) string {
	return sortedConcatHash(itemHashes)
}

func sortedConcatHash(hashes []string) string {
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		fmt.Fprint(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}
