package uvci

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderComposesExpectedForm(t *testing.T) {
	got, err := NewBuilder().
		Country("DE").
		Issuer("RKI").
		Vaccine("001").
		Unique("ABC123").
		Build()
	require.NoError(t, err)
	require.Equal(t, "URN:UVCI:01:DE:RKI/001/ABC123", got)
}

func TestBuilderWithoutOptionalComponents(t *testing.T) {
	got, err := NewBuilder().Country("DE").Unique("XYZ").Build()
	require.NoError(t, err)
	require.Equal(t, "URN:UVCI:01:DE:XYZ", got)
}

func TestBuilderRequiresCountry(t *testing.T) {
	_, err := NewBuilder().Unique("XYZ").Build()
	require.Error(t, err)
}

func TestBuilderRequiresUnique(t *testing.T) {
	_, err := NewBuilder().Country("DE").Build()
	require.Error(t, err)
}

func TestBuilderVaccineRequiresIssuer(t *testing.T) {
	_, err := NewBuilder().Country("DE").Vaccine("001").Unique("XYZ").Build()
	require.Error(t, err)
}

func TestBuilderRejectsInvalidCharacters(t *testing.T) {
	_, err := NewBuilder().Country("DE").Unique("abc").Build()
	require.Error(t, err)
}

func TestChecksumRoundTrip(t *testing.T) {
	body, err := NewBuilder().Country("DE").Issuer("RKI").Unique("ABC123").Build()
	require.NoError(t, err)

	withChecksum := AddChecksum(body)
	require.True(t, ValidateChecksum(withChecksum))

	tampered := withChecksum[:len(withChecksum)-1] + "Z"
	require.False(t, ValidateChecksum(tampered))
}

func TestValidateChecksumAcceptsUnsuffixedUVCI(t *testing.T) {
	require.True(t, ValidateChecksum("URN:UVCI:01:DE:RKI/001/ABC123"))
}

func TestBuildWithChecksum(t *testing.T) {
	got, err := NewBuilder().Country("DE").Unique("ABC123").BuildWithChecksum()
	require.NoError(t, err)
	require.True(t, ValidateChecksum(got))
}
