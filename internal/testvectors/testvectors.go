// Package testvectors builds and validates the eight-step DCC wire
// pipeline (payload → CBOR → CWT → COSE_Sign1 → deflate → Base45 →
// "HC1:" string): Build captures every intermediate artifact in a
// Vector so external conformance suites and this repository's own
// tests can hook any stage, and ValidateStageReversal decodes a Vector
// back through every stage, per SPEC_FULL.md §8.
package testvectors

import (
	"bytes"
	"time"

	"github.com/ubirch/dcc-cose-service/internal/base45x"
	"github.com/ubirch/dcc-cose-service/internal/codec"
	"github.com/ubirch/dcc-cose-service/internal/cose"
	"github.com/ubirch/dcc-cose-service/internal/cwt"
	"github.com/ubirch/dcc-cose-service/internal/dcc"
	"github.com/ubirch/dcc-cose-service/internal/deflatex"
)

// Vector captures every intermediate artifact of one encode pass, so
// a test (or an external conformance suite) can assert on any stage
// without re-deriving the earlier ones.
type Vector struct {
	Payload       dcc.Payload
	PayloadCBOR   []byte
	CWT           []byte
	COSESign1     []byte
	Deflated      []byte
	Base45        string
	HC1           string
	Issuer        string
	IssuedAt      time.Time
	Expiration    time.Time
}

// Build runs the full encode pipeline over payload with signer,
// capturing every intermediate artifact.
func Build(payload dcc.Payload, signer dcc.Signer, expiration time.Time, codecOpts codec.Options, signOpts cose.SignOptions) (*Vector, error) {
	c := codec.New(codecOpts)

	dgcCBOR, err := c.Encode(payload)
	if err != nil {
		return nil, err
	}

	cert, err := signer.Certificate()
	if err != nil {
		return nil, dcc.SignatureFailure("signer has no certificate: %v", err)
	}
	if len(cert.Subject.Country) == 0 {
		return nil, dcc.SchemaError("signer certificate has no Subject C= attribute")
	}
	issuer := cert.Subject.Country[0]
	issuedAt := time.Now().UTC()

	cwtBytes, err := cwt.NewBuilder().
		Issuer(issuer).
		IssuedAt(issuedAt).
		Expiration(expiration).
		DGCV1(dgcCBOR).
		Build()
	if err != nil {
		return nil, err
	}

	coseBytes, err := cose.Sign(cwtBytes, signer, signOpts)
	if err != nil {
		return nil, err
	}

	deflated, err := deflatex.Encode(coseBytes)
	if err != nil {
		return nil, err
	}

	b45 := base45x.Encode(deflated)

	return &Vector{
		Payload:     payload,
		PayloadCBOR: dgcCBOR,
		CWT:         cwtBytes,
		COSESign1:   coseBytes,
		Deflated:    deflated,
		Base45:      b45,
		HC1:         "HC1:" + b45,
		Issuer:      issuer,
		IssuedAt:    issuedAt,
		Expiration:  expiration,
	}, nil
}

// ValidateStageReversal decodes v's Base45 string back down to each
// intermediate stage and reports whether every stage round-trips,
// used by conformance tests that want a single "is this vector
// internally consistent" check.
func ValidateStageReversal(v *Vector, codecOpts codec.Options) error {
	deflated, err := base45x.Decode(v.Base45)
	if err != nil {
		return err
	}
	if !bytes.Equal(deflated, v.Deflated) {
		return dcc.InvariantViolation("Base45 stage does not reverse to the captured deflated bytes")
	}
	coseBytes, err := deflatex.Decode(deflated, true)
	if err != nil {
		return err
	}
	if !bytes.Equal(coseBytes, v.COSESign1) {
		return dcc.InvariantViolation("deflate stage does not reverse to the captured COSE_Sign1 bytes")
	}

	env, err := cose.Decode(coseBytes)
	if err != nil {
		return err
	}
	if !bytes.Equal(env.Payload, v.CWT) {
		return dcc.InvariantViolation("COSE_Sign1 payload does not match the captured CWT bytes")
	}

	claims, err := cwt.Parse(env.Payload)
	if err != nil {
		return err
	}
	dgcRaw, err := claims.DGC()
	if err != nil {
		return err
	}
	if !bytes.Equal(dgcRaw, v.PayloadCBOR) {
		return dcc.InvariantViolation("hcert claim does not match the captured payload CBOR")
	}

	c := codec.New(codecOpts)
	if _, err := c.Decode(dgcRaw); err != nil {
		return err
	}
	return nil
}
