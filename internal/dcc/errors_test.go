package dcc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfRecoversDistinctOutcomes(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{SchemaError("bad shape"), SchemaErrorKind},
		{CborError(nil, "bad cbor"), CborErrorKind},
		{Base45Error(nil, "bad b45"), Base45ErrorKind},
		{CompressionError(nil, "bad zlib"), CompressionErrorKind},
		{SignatureFailure("no match"), SignatureFailureKind},
		{NoCertificate("none found"), NoCertificateKind},
		{Expired("too late"), ExpiredKind},
		{KeyLookupError(nil, "provider down"), KeyLookupErrorKind},
		{InvariantViolation("should never happen"), InvariantViolationKind},
	}
	for _, c := range cases {
		require.Equal(t, c.kind, KindOf(c.err), c.err.Error())
	}
}

func TestKindOfDefaultsForForeignErrors(t *testing.T) {
	require.Equal(t, InvariantViolationKind, KindOf(errors.New("not ours")))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := CborError(cause, "decoding failed")
	require.ErrorIs(t, wrapped, cause)
}

func TestErrorMessageIncludesCauseOnlyWhenPresent(t *testing.T) {
	bare := SignatureFailure("no certificate matched")
	require.NotContains(t, bare.Error(), "root cause")

	cause := errors.New("root cause")
	wrapped := fmt.Errorf("%w", CborError(cause, "oops"))
	require.Contains(t, wrapped.Error(), "root cause")
}
