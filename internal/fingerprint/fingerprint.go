// Package fingerprint computes content-address digests of JSON-like values.
//
// Two values that are structurally equal after canonicalization produce the
// same digest, independent of process, host, or time. This is the identity
// used for argument deduplication, environment deduplication, and
// whole-database fingerprints.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"iter"
	"slices"
)

// Of returns the lowercase hex SHA-256 digest of the canonical JSON encoding
// of v.
func Of(v any) string {
	sum := sha256.Sum256(Canonical(v))
	return hex.EncodeToString(sum[:])
}

// OfAll returns an order-independent digest of a sequence of values: the
// per-value digests are collected, sorted, and fingerprinted again. Two
// sequences holding the same multiset of values digest identically no matter
// how they are ordered.
func OfAll(values iter.Seq[any]) string {
	var digests []any
	for v := range values {
		digests = append(digests, Of(v))
	}
	slices.SortFunc(digests, func(a, b any) int {
		as, bs := a.(string), b.(string)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	})
	return Of(digests)
}
