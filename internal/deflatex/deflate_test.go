package deflatex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility: the quick brown fox jumps over the lazy dog")

	compressed, err := Encode(original)
	require.NoError(t, err)
	require.True(t, LooksCompressed(compressed))
	require.Equal(t, byte(zlibMagic), compressed[0])

	decoded, err := Decode(compressed, true)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestDecodeStrictRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03}, true)
	require.Error(t, err)
}

func TestDecodeLenientPassesThroughGarbage(t *testing.T) {
	garbage := []byte{0x01, 0x02, 0x03}
	out, err := Decode(garbage, false)
	require.NoError(t, err)
	require.Equal(t, garbage, out)
}

func TestLooksCompressedOnEmptyInput(t *testing.T) {
	require.False(t, LooksCompressed(nil))
}
