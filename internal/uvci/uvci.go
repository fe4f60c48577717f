// Package uvci builds and verifies Unique Vaccination Certificate
// Identifiers and their optional Luhn-mod-N check character, per
// spec.md §4.8.
package uvci

import (
	"regexp"
	"strings"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// checksumAlphabet is the 38-symbol alphabet the Luhn-mod-N checksum
// is computed over.
const checksumAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/:"

var componentPattern = regexp.MustCompile(`^[A-Z0-9/:]*$`)

// Builder composes a UVCI string. Like the teacher's fluent HTTP
// builders, each setter consumes and returns the same *Builder; Build
// yields the finished, immutable string.
type Builder struct {
	version string
	country string
	issuer  string
	vaccine string
	unique  string
}

// NewBuilder starts a UVCI with the default version "01".
func NewBuilder() *Builder {
	return &Builder{version: "01"}
}

func (b *Builder) Version(v string) *Builder { b.version = v; return b }
func (b *Builder) Country(c string) *Builder { b.country = c; return b }
func (b *Builder) Issuer(i string) *Builder  { b.issuer = i; return b }
func (b *Builder) Vaccine(v string) *Builder { b.vaccine = v; return b }
func (b *Builder) Unique(u string) *Builder  { b.unique = u; return b }

// Build composes the UVCI body (without a checksum suffix).
func (b *Builder) Build() (string, error) {
	if b.country == "" {
		return "", dcc.SchemaError("UVCI requires a country")
	}
	if b.unique == "" {
		return "", dcc.SchemaError("UVCI requires a unique string")
	}
	if b.vaccine != "" && b.issuer == "" {
		return "", dcc.SchemaError("UVCI vaccine component requires an issuer")
	}

	for _, comp := range []string{b.country, b.issuer, b.vaccine, b.unique} {
		if !componentPattern.MatchString(comp) {
			return "", dcc.SchemaError("UVCI component %q contains characters outside [A-Z0-9/:]", comp)
		}
	}

	var sb strings.Builder
	sb.WriteString("URN:UVCI:")
	sb.WriteString(b.version)
	sb.WriteString(":")
	sb.WriteString(b.country)
	sb.WriteString(":")
	if b.issuer != "" {
		sb.WriteString(b.issuer)
		sb.WriteString("/")
	}
	if b.vaccine != "" {
		sb.WriteString(b.vaccine)
		sb.WriteString("/")
	}
	sb.WriteString(b.unique)
	return sb.String(), nil
}

// BuildWithChecksum composes the UVCI and appends "#" plus its
// Luhn-mod-N check character.
func (b *Builder) BuildWithChecksum() (string, error) {
	body, err := b.Build()
	if err != nil {
		return "", err
	}
	return AddChecksum(body), nil
}

// AddChecksum appends "#" and the Luhn-mod-N check character for body.
func AddChecksum(body string) string {
	return body + "#" + string(checksumChar(body))
}

// ValidateChecksum trims a trailing "#<check>" suffix, if present, and
// reports whether the check character matches a freshly computed one.
// A UVCI without a "#" suffix is treated as unchecked and reports true.
func ValidateChecksum(uvci string) bool {
	if len(uvci) < 2 || uvci[len(uvci)-2] != '#' {
		return true
	}
	body := uvci[:len(uvci)-2]
	want := uvci[len(uvci)-1]
	return checksumChar(body) == want
}

// checksumChar computes the Luhn-mod-N check character for body over
// checksumAlphabet, per the Wikipedia "Luhn mod N algorithm" generation
// procedure: process code points right to left, alternating the
// multiplier 2/1, folding each addend into base-n digits before
// summing, then mapping (n - sum mod n) mod n back to the alphabet.
func checksumChar(body string) byte {
	n := len(checksumAlphabet)
	factor := 2
	sum := 0

	for i := len(body) - 1; i >= 0; i-- {
		codePoint := strings.IndexByte(checksumAlphabet, body[i])
		if codePoint < 0 {
			continue
		}
		addend := factor * codePoint
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		addend = addend/n + addend%n
		sum += addend
	}

	remainder := sum % n
	checkCodePoint := (n - remainder) % n
	return checksumAlphabet[checkCodePoint]
}
