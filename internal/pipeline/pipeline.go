// Package pipeline implements the service facade of spec.md §4.7: the
// encode/decode operations assembling internal/codec, internal/cwt,
// internal/cose, internal/deflatex, and internal/base45x into the
// eight-step DCC wire pipeline. It is kept out of internal/dcc itself
// because each of those packages already imports internal/dcc — living
// here avoids the import cycle that would otherwise result.
package pipeline

import (
	"crypto/x509"
	"strings"
	"time"

	"github.com/ubirch/dcc-cose-service/internal/base45x"
	"github.com/ubirch/dcc-cose-service/internal/certsource"
	"github.com/ubirch/dcc-cose-service/internal/codec"
	"github.com/ubirch/dcc-cose-service/internal/cose"
	"github.com/ubirch/dcc-cose-service/internal/cwt"
	"github.com/ubirch/dcc-cose-service/internal/dcc"
	"github.com/ubirch/dcc-cose-service/internal/deflatex"
)

// hc1Prefix is the exact ASCII envelope marker of spec.md §6.
const hc1Prefix = "HC1:"

// Encoder runs the payload → HC1 string direction of the pipeline. It
// is immutable after construction and safe for concurrent use per
// spec.md §5.
type Encoder struct {
	codec    *codec.Codec
	signer   dcc.Signer
	signOpts cose.SignOptions
}

// NewEncoder builds an Encoder bound to signer. codecOpts configures
// the DCC CBOR layer; signOpts configures COSE header placement.
func NewEncoder(signer dcc.Signer, codecOpts codec.Options, signOpts cose.SignOptions) *Encoder {
	return &Encoder{codec: codec.New(codecOpts), signer: signer, signOpts: signOpts}
}

// Encode runs the full payload → "HC1:"+base45 pipeline of spec.md
// §4.7, stamping iat as now and exp as expiration.
func (e *Encoder) Encode(payload dcc.Payload, expiration time.Time) (string, error) {
	coseBytes, err := e.EncodeRaw(payload, expiration)
	if err != nil {
		return "", err
	}
	deflated, err := deflatex.Encode(coseBytes)
	if err != nil {
		return "", err
	}
	return hc1Prefix + base45x.Encode(deflated), nil
}

// EncodeRaw runs the pipeline only as far as the signed COSE_Sign1
// bytes, omitting the deflate/Base45/prefix stages.
func (e *Encoder) EncodeRaw(payload dcc.Payload, expiration time.Time) ([]byte, error) {
	dgcCBOR, err := e.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	cert, err := e.signer.Certificate()
	if err != nil {
		return nil, dcc.SignatureFailure("signer has no certificate: %v", err)
	}
	country, err := issuerCountry(cert)
	if err != nil {
		return nil, err
	}

	cwtBytes, err := cwt.NewBuilder().
		Issuer(country).
		IssuedAt(time.Now().UTC()).
		Expiration(expiration).
		DGCV1(dgcCBOR).
		Build()
	if err != nil {
		return nil, err
	}

	return cose.Sign(cwtBytes, e.signer, e.signOpts)
}

// Result is the decoded payload plus the metadata spec.md §4.7
// requires: the certificate that verified the signature, the issuing
// country, and the CWT's iat/exp claims.
type Result struct {
	Payload     dcc.Payload
	Certificate *x509.Certificate
	Country     string
	IssuedAt    time.Time
	Expiration  time.Time
}

// Decoder runs the HC1 string → payload direction of the pipeline. It
// is immutable after construction and safe for concurrent use.
type Decoder struct {
	codec    *codec.Codec
	provider certsource.Provider
	now      func() time.Time
}

// NewDecoder builds a Decoder. now is the injected clock source for
// expiration checks (spec.md §5 forbids a direct system-clock
// dependency in the verifier); pass time.Now for production use.
func NewDecoder(provider certsource.Provider, codecOpts codec.Options, now func() time.Time) *Decoder {
	return &Decoder{codec: codec.New(codecOpts), provider: provider, now: now}
}

// Decode runs the full "HC1:"+base45 → payload pipeline of spec.md
// §4.7. The "HC1:" prefix is stripped if present; its absence is not
// an error.
func (d *Decoder) Decode(s string) (*Result, error) {
	s = strings.TrimPrefix(s, hc1Prefix)
	compressed, err := base45x.Decode(s)
	if err != nil {
		return nil, err
	}
	coseBytes, err := deflatex.Decode(compressed, false)
	if err != nil {
		return nil, err
	}
	return d.DecodeRaw(coseBytes)
}

// DecodeRaw verifies and decodes already-signed COSE_Sign1 bytes,
// omitting the deflate/Base45/prefix stages.
func (d *Decoder) DecodeRaw(coseBytes []byte) (*Result, error) {
	env, err := cose.Decode(coseBytes)
	if err != nil {
		return nil, err
	}

	claims, err := cwt.Parse(env.Payload)
	if err != nil {
		return nil, err
	}

	kid, _ := env.KID()
	var countryPtr *string
	if iss, ok := claims.Issuer(); ok {
		countryPtr = &iss
	}
	if countryPtr == nil && len(kid) == 0 {
		return nil, dcc.NoCertificate("neither country (cwt iss) nor kid could be derived")
	}

	candidates, err := d.provider.Lookup(countryPtr, kid)
	if err != nil {
		return nil, dcc.KeyLookupError(err, "looking up candidate certificates")
	}
	if len(candidates) == 0 {
		return nil, dcc.NoCertificate("no certificates found for the candidate (country, kid) pair")
	}

	cert, err := env.Verify(candidates)
	if err != nil {
		return nil, err
	}

	// Expiration is only ever enforced once the signature has verified,
	// so "invalid signature" and "valid but stale" remain distinguishable.
	if exp, ok := claims.Expiration(); ok {
		if d.now().After(exp) {
			return nil, dcc.Expired("certificate expired at %s", exp)
		}
	}

	dgcRaw, err := claims.DGC()
	if err != nil {
		return nil, err
	}
	payload, err := d.codec.Decode(dgcRaw)
	if err != nil {
		return nil, err
	}

	country, _ := claims.Issuer()
	iat, _ := claims.IssuedAt()
	exp, _ := claims.Expiration()

	return &Result{
		Payload:     payload,
		Certificate: cert,
		Country:     country,
		IssuedAt:    iat,
		Expiration:  exp,
	}, nil
}

// issuerCountry extracts the ISO-3166 country code from the signer
// certificate's Subject C= attribute, used as the CWT iss claim.
func issuerCountry(cert *x509.Certificate) (string, error) {
	if len(cert.Subject.Country) == 0 || cert.Subject.Country[0] == "" {
		return "", dcc.SchemaError("signer certificate has no Subject C= (country) attribute")
	}
	return cert.Subject.Country[0], nil
}
