package codec

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

func samplePayload(t *testing.T) dcc.Payload {
	t.Helper()
	dob, err := dcc.ParseLocalDate("1990-05-12")
	require.NoError(t, err)
	dt, err := dcc.ParseLocalDate("2021-06-01")
	require.NoError(t, err)

	return dcc.Payload{
		Version: "1.3.0",
		Name: dcc.Name{
			FamilyName: "Müller",
			GivenName:  "Jan Âge",
		},
		DateOfBirth: dob,
		Vaccinations: []dcc.VaccinationEntry{{
			Disease:      "840539006",
			Vaccine:      "1119305005",
			Product:      "EU/1/20/1528",
			Manufacturer: "ORG-100030215",
			DoseNumber:   2,
			DoseTotal:    2,
			Date:         dt,
			Country:      "DE",
			Issuer:       "Robert Koch-Institut",
			UVCI:         "URN:UVCI:01:DE:ABC123#T",
		}},
	}
}

func TestEncodeFillsTransliteratedNamesWhenAbsent(t *testing.T) {
	c := New(Options{})
	data, err := c.Encode(samplePayload(t))
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "MUELLER", decoded.Name.FamilyNameStd)
	require.Equal(t, "JAN<AGE", decoded.Name.GivenNameStd)
}

func TestEncodeDoesNotMutateCallersPayload(t *testing.T) {
	c := New(Options{})
	p := samplePayload(t)
	_, err := c.Encode(p)
	require.NoError(t, err)
	require.Equal(t, "", p.Name.FamilyNameStd, "caller's payload must be left untouched")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New(Options{})
	p := samplePayload(t)
	data, err := c.Encode(p)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)

	p.Name.FamilyNameStd = decoded.Name.FamilyNameStd
	p.Name.GivenNameStd = decoded.Name.GivenNameStd
	if diff := cmp.Diff(p, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	c := New(Options{})
	p := samplePayload(t)
	p.Recoveries = []dcc.RecoveryEntry{{Country: "DE", UVCI: "URN:UVCI:01:DE:ANOTHER"}}
	_, err := c.Encode(p)
	require.Error(t, err)
}

func TestUntaggedInstantsOption(t *testing.T) {
	sampleTime, err := time.Parse(time.RFC3339, "2021-06-01T10:00:00Z")
	require.NoError(t, err)

	p := samplePayload(t)
	p.Vaccinations = nil
	p.Tests = []dcc.TestEntry{{
		Disease:          "840539006",
		TestType:         "LP6464-4",
		SampleCollection: dcc.NewInstant(sampleTime),
		Result:           "260415000",
		Country:          "DE",
		Issuer:           "Robert Koch-Institut",
		UVCI:             "URN:UVCI:01:DE:TESTUVCI",
	}}

	plain := New(Options{})
	untagged := New(Options{UntaggedInstants: true})

	taggedData, err := plain.Encode(p)
	require.NoError(t, err)
	untaggedData, err := untagged.Encode(p)
	require.NoError(t, err)

	require.NotEqual(t, taggedData, untaggedData)

	decodedFromUntagged, err := plain.Decode(untaggedData)
	require.NoError(t, err)
	require.True(t, p.Tests[0].SampleCollection.Time().Equal(decodedFromUntagged.Tests[0].SampleCollection.Time()))
}
