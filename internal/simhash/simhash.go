// Package simhash implements 64-bit SimHash fingerprinting, Hamming
// similarity and greedy near-duplicate clustering.
package simhash

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"regexp"
	"strings"
	"unicode"
)

// DefaultBits is the fingerprint width.
const DefaultBits = 64

// DefaultThreshold is the similarity at or above which two texts are
// considered near-duplicates.
const DefaultThreshold = 0.85

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// Tokenize lowercases text, removes non-word characters (keeping CJK),
// splits ASCII runs on whitespace and CJK runs per code point.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	text = nonWord.ReplaceAllString(text, " ")

	var tokens []string
	var ascii strings.Builder
	flush := func() {
		if ascii.Len() > 0 {
			tokens = append(tokens, ascii.String())
			ascii.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			ascii.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// tokenBits folds SHA-256(token) into 64 bits by xor-ing the digest's
// four 8-byte words, so every digest byte influences the fingerprint.
func tokenBits(token string) uint64 {
	sum := sha256.Sum256([]byte(token))
	var v uint64
	for i := 0; i < len(sum); i += 8 {
		v ^= binary.BigEndian.Uint64(sum[i : i+8])
	}
	return v
}

// Hash computes the 64-bit SimHash of text. Each token contributes +1 or
// -1 per bit position weighted by its frequency; bit i of the result is
// set iff the accumulated weight at i is >= 0.
func Hash(text string) uint64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}

	var weights [DefaultBits]int
	for token, count := range freq {
		h := tokenBits(token)
		for i := 0; i < DefaultBits; i++ {
			if h&(1<<uint(DefaultBits-1-i)) != 0 {
				weights[i] += count
			} else {
				weights[i] -= count
			}
		}
	}

	var hash uint64
	for i := 0; i < DefaultBits; i++ {
		if weights[i] >= 0 {
			hash |= 1 << uint(DefaultBits-1-i)
		}
	}
	return hash
}

// Similarity returns 1 - hamming(a,b)/64, symmetric and in [0,1].
func Similarity(a, b uint64) float64 {
	return 1.0 - float64(bits.OnesCount64(a^b))/float64(DefaultBits)
}

// IsNearDuplicate reports whether two hashes are within threshold.
func IsNearDuplicate(a, b uint64, threshold float64) bool {
	return Similarity(a, b) >= threshold
}

// Entry pairs an id with its precomputed hash for clustering.
type Entry struct {
	ID   int64
	Hash uint64
}

// Cluster performs single-pass greedy clustering: each unassigned entry
// starts a cluster and absorbs all subsequent unassigned entries within
// threshold. Returns representative id -> duplicate ids. The first entry
// encountered becomes the representative for its cluster; downstream
// callers may reassign the representative (e.g. longest content).
func Cluster(entries []Entry, threshold float64) map[int64][]int64 {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	clusters := make(map[int64][]int64)
	assigned := make(map[int64]bool, len(entries))

	for i, e := range entries {
		if assigned[e.ID] {
			continue
		}
		assigned[e.ID] = true
		clusters[e.ID] = nil

		for _, other := range entries[i+1:] {
			if assigned[other.ID] {
				continue
			}
			if IsNearDuplicate(e.Hash, other.Hash, threshold) {
				assigned[other.ID] = true
				clusters[e.ID] = append(clusters[e.ID], other.ID)
			}
		}
	}
	return clusters
}
