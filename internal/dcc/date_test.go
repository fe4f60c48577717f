package dcc

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestParseLocalDateAcceptsTolerantGrammar(t *testing.T) {
	valid := []string{"1990", "1990-05", "1990-05-12", "1990-XX-12", "1990-05-XX"}
	for _, s := range valid {
		_, err := ParseLocalDate(s)
		require.NoError(t, err, "expected %q to be accepted", s)
	}
}

func TestParseLocalDateRejectsMalformed(t *testing.T) {
	invalid := []string{"90-05-12", "1990/05/12", "not-a-date"}
	for _, s := range invalid {
		_, err := ParseLocalDate(s)
		require.Error(t, err, "expected %q to be rejected", s)
	}
}

func TestLocalDateCBORRoundTrip(t *testing.T) {
	d, err := ParseLocalDate("1990-05-12")
	require.NoError(t, err)

	data, err := cbor.Marshal(d)
	require.NoError(t, err)

	var decoded LocalDate
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	require.Equal(t, d, decoded)
}

func TestInstantDefaultEncodingUsesTag0(t *testing.T) {
	i := NewInstant(time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC))
	data, err := cbor.Marshal(i)
	require.NoError(t, err)

	// major type 6 (tag) occupies the top 3 bits of the first byte.
	require.Equal(t, byte(6), data[0]>>5)

	var raw cbor.RawTag
	require.NoError(t, cbor.Unmarshal(data, &raw))
	require.EqualValues(t, 0, raw.Number)
}

func TestInstantUntaggedEncodingOmitsTag(t *testing.T) {
	i := NewInstant(time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)).Untagged()
	data, err := cbor.Marshal(i)
	require.NoError(t, err)
	require.NotEqual(t, byte(6), data[0]>>5)
}

func TestInstantRoundTripThroughTag0(t *testing.T) {
	want := NewInstant(time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC))
	data, err := cbor.Marshal(want)
	require.NoError(t, err)

	var got Instant
	require.NoError(t, cbor.Unmarshal(data, &got))
	require.True(t, want.Time().Equal(got.Time()))
}

func TestInstantDecodesUntaggedNumericSeconds(t *testing.T) {
	secs := int64(1622548800) // 2021-06-01T12:00:00Z
	data, err := cbor.Marshal(secs)
	require.NoError(t, err)

	var got Instant
	require.NoError(t, got.UnmarshalCBOR(data))
	require.Equal(t, time.Unix(secs, 0).UTC(), got.Time())
}

func TestInstantDecodesTag1NumericSeconds(t *testing.T) {
	secs := int64(1622548800)
	data, err := cbor.Marshal(cbor.Tag{Number: 1, Content: secs})
	require.NoError(t, err)

	var got Instant
	require.NoError(t, got.UnmarshalCBOR(data))
	require.Equal(t, time.Unix(secs, 0).UTC(), got.Time())
}

func TestInstantDecodesUntaggedISOText(t *testing.T) {
	data, err := cbor.Marshal("2021-06-01T12:00:00Z")
	require.NoError(t, err)

	var got Instant
	require.NoError(t, got.UnmarshalCBOR(data))
	require.Equal(t, 2021, got.Time().Year())
}
