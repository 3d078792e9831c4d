// Package fingerprint produces stable, length-independent fingerprints of
// response text, used to detect when an endpoint's responses drift from
// their usual shape.
package fingerprint

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Response fingerprints the given text: lowercased, whitespace runs collapsed
// to a single space, then hashed. Two responses differing only in casing or
// whitespace produce the same fingerprint. Empty text returns "".
func Response(text string) string {
	norm := Normalize(text)
	if norm == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(norm))
}

// Normalize lowercases the text and collapses whitespace runs to single
// spaces, trimming the ends.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
