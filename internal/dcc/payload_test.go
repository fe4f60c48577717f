package dcc

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func samplePayload(t *testing.T) Payload {
	t.Helper()
	dob, err := ParseLocalDate("1990-05-12")
	require.NoError(t, err)
	dt, err := ParseLocalDate("2021-06-01")
	require.NoError(t, err)

	return Payload{
		Version: "1.3.0",
		Name: Name{
			FamilyName:    "Müller",
			FamilyNameStd: "MUELLER",
			GivenName:     "Jan",
			GivenNameStd:  "JAN",
		},
		DateOfBirth: dob,
		Vaccinations: []VaccinationEntry{{
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

func TestPayloadValidateAcceptsWellFormed(t *testing.T) {
	p := samplePayload(t)
	require.NoError(t, p.Validate())
}

func TestPayloadValidateRejectsMultipleGroups(t *testing.T) {
	p := samplePayload(t)
	p.Tests = []TestEntry{{Disease: "840539006", Country: "DE", UVCI: "URN:UVCI:01:DE:OTHER"}}
	err := p.Validate()
	require.Error(t, err)
	require.Equal(t, SchemaErrorKind, KindOf(err))
}

func TestPayloadValidateRejectsEmptyPresentGroup(t *testing.T) {
	p := samplePayload(t)
	p.Vaccinations = []VaccinationEntry{}
	require.Error(t, p.Validate())
}

func TestPayloadValidateRejectsDuplicateUVCI(t *testing.T) {
	p := samplePayload(t)
	p.Vaccinations = append(p.Vaccinations, p.Vaccinations[0])
	err := p.Validate()
	require.Error(t, err)
}

func TestPayloadValidateRejectsBadDoseNumbers(t *testing.T) {
	p := samplePayload(t)
	p.Vaccinations[0].DoseNumber = 0
	require.Error(t, p.Validate())

	p2 := samplePayload(t)
	p2.Vaccinations[0].DoseTotal = 10
	require.Error(t, p2.Validate())
}

func TestPayloadValidateRejectsFntOutsideAlphabet(t *testing.T) {
	p := samplePayload(t)
	p.Name.FamilyNameStd = "müller"
	require.Error(t, p.Validate())
}

func TestPayloadCBORRoundTripPreservesFieldOrder(t *testing.T) {
	p := samplePayload(t)
	data, err := cbor.Marshal(p)
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	require.Equal(t, p.Version, decoded.Version)
	require.Equal(t, p.Name, decoded.Name)
	require.Equal(t, len(p.Vaccinations), len(decoded.Vaccinations))
	require.Equal(t, p.Vaccinations[0].UVCI, decoded.Vaccinations[0].UVCI)

	// Struct field declaration order drives the map key order (§4.4):
	// "ver" must precede "nam" in the wire encoding.
	verIdx := indexOfMapKey(t, data, "ver")
	namIdx := indexOfMapKey(t, data, "nam")
	require.Less(t, verIdx, namIdx)
}

// indexOfMapKey returns the byte offset of a CBOR text-string key's
// encoding within data, used only to assert relative key ordering.
func indexOfMapKey(t *testing.T, data []byte, key string) int {
	t.Helper()
	encodedKey, err := cbor.Marshal(key)
	require.NoError(t, err)
	for i := 0; i+len(encodedKey) <= len(data); i++ {
		match := true
		for j := range encodedKey {
			if data[i+j] != encodedKey[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	t.Fatalf("key %q not found in encoded payload", key)
	return -1
}
