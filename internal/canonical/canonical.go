// Package canonical turns raw JD text into the canonical form used for
// deduplication and summarization, and computes its two fingerprints.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"regexp"
	"strings"
	"unicode"

	"github.com/mfonda/simhash"
)

var (
	tagRe    = regexp.MustCompile(`<[^>]{1,256}>`)
	bulletRe = regexp.MustCompile(`[•▪◦●○■□★☆▶►✔✓✗·–—]+`)
)

// Canonicalize strips formatting noise from raw JD text and normalizes
// whitespace and case. The result is the only form ever hashed or sent to
// the LLM, so byte-identical postings canonicalize identically.
func Canonicalize(raw string) string {
	s := tagRe.ReplaceAllString(raw, " ")
	s = bulletRe.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	space := true // swallow leading whitespace
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimRight(b.String(), " ")
}

// ContentHash is the exact-duplicate fingerprint: sha256 hex over the
// canonical text.
func ContentHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Simhash is the near-duplicate fingerprint: a 64-bit simhash over word
// features of the canonical text. Similar texts land within a few bits of
// each other.
func Simhash(canonical string) uint64 {
	return simhash.Simhash(simhash.NewWordFeatureSet([]byte(canonical)))
}

// Distance is the hamming distance between two simhash fingerprints.
func Distance(a, b uint64) uint8 {
	return uint8(bits.OnesCount64(a ^ b))
}

// Fingerprint computes both fingerprints in one pass.
func Fingerprint(canonical string) (hash string, sim uint64) {
	return ContentHash(canonical), Simhash(canonical)
}
