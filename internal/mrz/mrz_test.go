package mrz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeBasicTransliteration(t *testing.T) {
	cases := map[string]string{
		"Müller":     "MUELLER",
		"Björk":      "BJOERK",
		"O'Brien":    "OBRIEN",
		"Jean-Paul":  "JEAN<PAUL",
		"Anne Marie": "ANNE<MARIE",
		"Øystein":    "OEYSTEIN",
		"straße":     "STRASSE",
		"":           "",
	}
	for in, want := range cases {
		require.Equal(t, want, Encode(in), "transliterating %q", in)
	}
}

func TestEncodeDropsNonASCIIWithoutExpansion(t *testing.T) {
	got := Encode("José")
	require.Equal(t, "JOSE", got)
}

func TestEncodeIsIdempotent(t *testing.T) {
	in := "Müller-Lüdenscheidt"
	once := Encode(in)
	twice := Encode(once)
	require.Equal(t, once, twice)
}

func TestEncodeTruncatesAndTrimsTrailingFiller(t *testing.T) {
	long := strings.Repeat("A", 85)
	got := Encode(long)
	require.LessOrEqual(t, len(got), maxLen)

	// Position a filler-producing space exactly at the truncation
	// boundary so the trailing "<" left by truncation gets trimmed.
	longWithSpace := strings.Repeat("A", 79) + " " + strings.Repeat("A", 5)
	got2 := Encode(longWithSpace)
	require.Equal(t, strings.Repeat("A", 79), got2)
}

func TestEncodeRestrictsToAllowedAlphabet(t *testing.T) {
	got := Encode("A.B,C!D")
	for _, r := range got {
		require.True(t, allowed[r], "character %q not in MRZ alphabet", r)
	}
}
