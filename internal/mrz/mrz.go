// Package mrz transliterates subject names to ICAO 9303 Machine
// Readable Zone form: uppercase ASCII restricted to [A-Z0-9<], per
// spec.md §4.3.
package mrz

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxLen = 80

// expansions holds the fixed multi-character replacements applied
// before normalisation and ASCII folding.
var expansions = map[rune]string{
	'Å': "AA", 'å': "AA",
	'Ä': "AE", 'ä': "AE", 'Æ': "AE", 'æ': "AE",
	'Ö': "OE", 'ö': "OE", 'Ø': "OE", 'ø': "OE",
	'Ü': "UE", 'ü': "UE",
	'ß': "SS",
	'Œ': "OE", 'œ': "OE",
	'Ð': "D",
	'Ĳ': "IJ", 'ĳ': "IJ",
}

var allowed = func() map[rune]bool {
	m := make(map[rune]bool, 37)
	for c := 'A'; c <= 'Z'; c++ {
		m[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		m[c] = true
	}
	m['<'] = true
	return m
}()

// Encode transliterates s to the MRZ subset [A-Z0-9<]. It is
// idempotent: Encode(Encode(s)) == Encode(s).
func Encode(s string) string {
	s = strings.TrimSpace(s)

	var expanded strings.Builder
	expanded.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			// drop apostrophes entirely
		case expansions[r] != "":
			expanded.WriteString(expansions[r])
		case unicode.IsSpace(r):
			expanded.WriteRune('<')
		default:
			expanded.WriteRune(r)
		}
	}

	// NFD-normalise and strip combining marks / non-ASCII so that
	// accented letters not covered by the fixed table (e.g. é, ñ)
	// fold to their base Latin letter.
	decomposed := norm.NFD.String(expanded.String())
	var folded strings.Builder
	folded.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // combining mark dropped by NFD stripping
		}
		if r > unicode.MaxASCII {
			continue
		}
		folded.WriteRune(r)
	}

	upper := strings.ToUpper(folded.String())

	var result strings.Builder
	result.Grow(len(upper))
	for _, r := range upper {
		if allowed[r] {
			result.WriteRune(r)
		} else {
			result.WriteRune('<')
		}
	}

	out := result.String()
	if len(out) > maxLen {
		out = out[:maxLen]
		if out[maxLen-1] == '<' {
			out = out[:maxLen-1]
		}
	}
	return out
}
