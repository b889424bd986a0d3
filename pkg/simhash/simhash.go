// Package simhash implements 64-bit similarity hashing for near-duplicate
// detection of page text.
package simhash

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Hash computes a 64-bit simhash over the text. Features are lowercased
// alphanumeric word tokens weighted by frequency; each feature is hashed
// with xxhash64 and folded into the 64 bit-plane accumulators.
func Hash(text string) uint64 {
	features := tokenize(text)
	if len(features) == 0 {
		return 0
	}

	var planes [64]int
	for token, weight := range features {
		h := xxhash.Sum64String(token)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				planes[bit] += weight
			} else {
				planes[bit] -= weight
			}
		}
	}

	var out uint64
	for bit := 0; bit < 64; bit++ {
		if planes[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// Distance returns the Hamming distance between two simhashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func tokenize(text string) map[string]int {
	features := make(map[string]int)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			features[b.String()]++
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return features
}
