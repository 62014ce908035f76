// Package hashing computes a pattern's deterministic identity: its
// canonical-sequence name, MinHash signature, and LSH bands. None of this
// depends on storage or session state — it is pure given an event
// sequence.
package hashing

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/sevakavakians/kato/internal/models"
)

const (
	// NumHashes is the MinHash signature length (100 permutations).
	NumHashes = 100
	// NumBands and RowsPerBand partition NumHashes into LSH bands
	// (20 bands x 5 rows = 100).
	NumBands     = 20
	RowsPerBand  = 5
)

// CanonicalSequence flattens events, sorting each event's symbols, then
// joins symbols within an event with "_" and events with "|". Two events
// slices that differ only in per-event ordering canonicalize identically.
func CanonicalSequence(events []models.Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		sorted := append([]string(nil), ev...)
		sort.Strings(sorted)
		parts[i] = strings.Join(sorted, "_")
	}
	return strings.Join(parts, "|")
}

// Name derives a pattern's identity: "PTRN|" + the hex SHA-1 of its
// canonical sequence.
func Name(events []models.Event) string {
	sum := sha1.Sum([]byte(CanonicalSequence(events)))
	return "PTRN|" + hex.EncodeToString(sum[:])
}

// TokenSet returns the sorted, distinct symbols across all events.
func TokenSet(events []models.Event) []string {
	seen := map[string]struct{}{}
	for _, ev := range events {
		for _, sym := range ev {
			seen[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Length is the total symbol count, summed over events (not deduplicated).
func Length(events []models.Event) int {
	n := 0
	for _, ev := range events {
		n += len(ev)
	}
	return n
}

// FirstLast returns the first and last token of the flattened sequence,
// used for prefix/suffix narrowing. Both are empty if events is empty or
// every event is empty.
func FirstLast(events []models.Event) (first, last string) {
	for _, ev := range events {
		if len(ev) > 0 {
			first = ev[0]
			break
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if len(events[i]) > 0 {
			last = events[i][len(events[i])-1]
			break
		}
	}
	return first, last
}

// fnv64 hashes a string with the FNV-1a 64-bit algorithm; used as the base
// hash that each MinHash permutation salts and re-mixes.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// permute mixes a base hash with a permutation index using a fixed
// multiplicative constant per index, giving NumHashes independent-enough
// hash functions from a single FNV pass per token.
func permute(base uint64, index int) uint64 {
	salt := uint64(index)*0x9E3779B97F4A7C15 + 0xBF58476D1CE4E5B9
	h := base ^ salt
	h ^= h >> 33
	h *= 0xFF51AFD7ED558CCD
	h ^= h >> 33
	h *= 0xC4CEB9FE1A85EC53
	h ^= h >> 33
	return h
}

// MinHashSignature computes a NumHashes-element MinHash signature over a
// token set: for each of NumHashes permutations, the signature element is
// the minimum permuted hash across all tokens. An empty token set yields a
// signature of all-zero, distinct from any signature with a real minimum
// (permuted hashes of a non-empty set are astronomically unlikely to be
// exactly 0 for every permutation).
func MinHashSignature(tokenSet []string) []uint64 {
	sig := make([]uint64, NumHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for _, tok := range tokenSet {
		base := fnv64(tok)
		for i := 0; i < NumHashes; i++ {
			h := permute(base, i)
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	if len(tokenSet) == 0 {
		for i := range sig {
			sig[i] = 0
		}
	}
	return sig
}

// LSHBands derives NumBands band hashes from a MinHash signature: each
// band folds RowsPerBand consecutive signature elements into one hash so
// two signatures sharing a band hash are likely to have Jaccard similarity
// near the configured minhash_threshold.
func LSHBands(sig []uint64) []uint64 {
	bands := make([]uint64, NumBands)
	for b := 0; b < NumBands; b++ {
		h := uint64(1469598103934665603)
		for r := 0; r < RowsPerBand; r++ {
			idx := b*RowsPerBand + r
			if idx >= len(sig) {
				break
			}
			h ^= sig[idx]
			h *= 1099511628211
		}
		bands[b] = h
	}
	return bands
}

// BuildIndex derives the full set of PatternIndex fields for an event
// sequence.
func BuildIndex(kbID string, events []models.Event) models.Pattern {
	tokenSet := TokenSet(events)
	sig := MinHashSignature(tokenSet)
	first, last := FirstLast(events)
	return models.Pattern{
		KBID:       kbID,
		Name:       Name(events),
		Events:     events,
		Length:     Length(events),
		TokenSet:   tokenSet,
		TokenCount: len(tokenSet),
		MinHash:    sig,
		LSHBands:   LSHBands(sig),
		FirstToken: first,
		LastToken:  last,
	}
}
