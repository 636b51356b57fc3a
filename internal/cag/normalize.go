package cag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a query per spec §4.6 step 1: lowercase, collapse
// whitespace, strip trailing punctuation, fold diacritics. Two queries that
// normalize to the same string hit the exact cache tier regardless of
// casing, spacing, or accenting (spec §8 scenario 2).
func Normalize(q string) string {
	s := strings.ToLower(strings.TrimSpace(q))
	s = foldDiacritics(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".,!?;: ")
	return s
}

// foldDiacritics decomposes s to NFD, drops combining marks (café -> cafe),
// and recomposes to NFC. golang.org/x/text is already present in the
// dependency closure (pulled in transitively by the teacher's own stack);
// this is the standard idiom for diacritic folding in Go since the
// standard library's unicode package has no normalization forms.
func foldDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// QueryID computes the cache key spec §3 defines: id = sha256(normalized).
func QueryID(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
