// Copyright (c) 2021 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cose implements the COSE_Sign1 envelope of spec.md §4.6:
// protected/unprotected header handling, Sig_structure1 canonical
// encoding, detached-content signing, algorithm binding, and KID
// handling. It never resolves certificates itself — callers supply
// the candidate list a CertificateProvider returned.
package cose

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

const (
	// headerAlg is the Common COSE Header label for the algorithm.
	headerAlg = 1
	// headerKID is the Common COSE Header label for the key identifier.
	headerKID = 4
	// sign1Tag is the CBOR tag identifying a tagged COSE_Sign1.
	sign1Tag = 18
	// sig1Context is the Sig_structure context string for COSE_Sign1.
	sig1Context = "Signature1"
)

var canonicalEncMode = func() cbor.EncMode {
	enc, err := cbor.CanonicalEncOptions().EncMode() // RFC 8152 §14
	if err != nil {
		panic(err)
	}
	return enc
}()

// coseSign1 is the four-element COSE_Sign1 array of RFC 8152 §4.2.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int64]interface{}
	Payload     []byte
	Signature   []byte
}

// sigStructure1 is the Sig_structure of RFC 8152 §4.4 for COSE_Sign1.
type sigStructure1 struct {
	_               struct{} `cbor:",toarray"`
	Context         string
	ProtectedHeader []byte
	External        []byte
	Payload         []byte
}

// SignOptions configures header placement during Sign. The zero value
// is the spec's default: kid in the protected header, tag 18 wrapping.
type SignOptions struct {
	// UnprotectedKID, when true, places kid in the unprotected header
	// instead of the protected one.
	UnprotectedKID bool
	// Untagged, when true, omits the outer CBOR tag 18.
	Untagged bool
}

// Sign builds a COSE_Sign1 envelope over payload using signer's
// private key, certificate, and declared algorithm.
func Sign(payload []byte, signer dcc.Signer, opts SignOptions) ([]byte, error) {
	cert, err := signer.Certificate()
	if err != nil {
		return nil, dcc.SignatureFailure("signer has no certificate: %v", err)
	}
	alg := signer.Algorithm()
	kid := dcc.KID(cert)

	protectedMap := map[int64]interface{}{headerAlg: alg.COSEAlg}
	unprotectedMap := map[int64]interface{}{}
	if opts.UnprotectedKID {
		unprotectedMap[headerKID] = kid
	} else {
		protectedMap[headerKID] = kid
	}

	protectedBytes, err := canonicalEncMode.Marshal(protectedMap)
	if err != nil {
		return nil, dcc.CborError(err, "encoding protected header")
	}

	toBeSigned, err := canonicalEncMode.Marshal(&sigStructure1{
		Context:         sig1Context,
		ProtectedHeader: protectedBytes,
		External:        []byte{},
		Payload:         payload,
	})
	if err != nil {
		return nil, dcc.CborError(err, "encoding Sig_structure1")
	}

	priv, err := signer.PrivateKey()
	if err != nil {
		return nil, dcc.SignatureFailure("signer has no private key: %v", err)
	}

	hasher := alg.Hash.New()
	hasher.Write(toBeSigned)
	digest := hasher.Sum(nil)

	var sigBytes []byte
	if alg.IsECDSA() {
		der, err := priv.Sign(rand.Reader, digest, alg.Hash)
		if err != nil {
			return nil, dcc.SignatureFailure("ECDSA sign failed: %v", err)
		}
		sigBytes, err = derToRawECDSA(der, alg.CurveOrderByteLen())
		if err != nil {
			return nil, dcc.SignatureFailure("converting DER signature to raw r||s: %v", err)
		}
	} else {
		sigBytes, err = priv.Sign(rand.Reader, digest, &rsa.PSSOptions{
			SaltLength: alg.Hash.Size(),
			Hash:       alg.Hash,
		})
		if err != nil {
			return nil, dcc.SignatureFailure("RSASSA-PSS sign failed: %v", err)
		}
	}

	sign1 := &coseSign1{
		Protected:   protectedBytes,
		Unprotected: unprotectedMap,
		Payload:     payload,
		Signature:   sigBytes,
	}

	if opts.Untagged {
		out, err := canonicalEncMode.Marshal(sign1)
		if err != nil {
			return nil, dcc.CborError(err, "encoding COSE_Sign1")
		}
		return out, nil
	}
	out, err := canonicalEncMode.Marshal(cbor.Tag{Number: sign1Tag, Content: sign1})
	if err != nil {
		return nil, dcc.CborError(err, "encoding tagged COSE_Sign1")
	}
	return out, nil
}

// Envelope is a decoded, not-yet-verified COSE_Sign1. The payload is
// readable (it carries no confidentiality) before a candidate
// certificate is chosen, so callers can derive lookup parameters (the
// CWT's iss, the header's kid) prior to calling Verify.
type Envelope struct {
	protectedRaw []byte
	protected    map[int64]cbor.RawMessage
	unprotected  map[int64]interface{}
	Payload      []byte
	signature    []byte
}

// Decode parses data into an Envelope, unwrapping the optional outer
// tag 18 first.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, dcc.CborError(nil, "empty COSE_Sign1 encoding")
	}
	if data[0]>>5 == 6 {
		var raw cbor.RawTag
		if err := cbor.Unmarshal(data, &raw); err != nil {
			return nil, dcc.CborError(err, "decoding tagged COSE_Sign1")
		}
		if raw.Number != sign1Tag {
			return nil, dcc.CborError(nil, "unexpected outer COSE tag %d", raw.Number)
		}
		data = raw.Content
	}

	var sign1 coseSign1
	if err := cbor.Unmarshal(data, &sign1); err != nil {
		return nil, dcc.CborError(err, "decoding COSE_Sign1 sequence")
	}

	var protected map[int64]cbor.RawMessage
	if len(sign1.Protected) > 0 {
		if err := cbor.Unmarshal(sign1.Protected, &protected); err != nil {
			return nil, dcc.CborError(err, "decoding protected header map")
		}
	}

	return &Envelope{
		protectedRaw: sign1.Protected,
		protected:    protected,
		unprotected:  sign1.Unprotected,
		Payload:      sign1.Payload,
		signature:    sign1.Signature,
	}, nil
}

func (e *Envelope) intHeader(label int64) (int64, bool) {
	if raw, ok := e.protected[label]; ok {
		var v int64
		if err := cbor.Unmarshal(raw, &v); err == nil {
			return v, true
		}
	}
	if v, ok := e.unprotected[label]; ok {
		switch n := v.(type) {
		case int64:
			return n, true
		case uint64:
			return int64(n), true
		}
	}
	return 0, false
}

func (e *Envelope) bytesHeader(label int64) ([]byte, bool) {
	if raw, ok := e.protected[label]; ok {
		var v []byte
		if err := cbor.Unmarshal(raw, &v); err == nil {
			return v, true
		}
	}
	if v, ok := e.unprotected[label]; ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}
	return nil, false
}

// Algorithm extracts the alg header, preferring the protected bucket,
// falling back to unprotected.
func (e *Envelope) Algorithm() (dcc.Algorithm, error) {
	id, ok := e.intHeader(headerAlg)
	if !ok {
		return dcc.Algorithm{}, dcc.SchemaError("COSE_Sign1 carries no alg header")
	}
	alg, ok := dcc.AlgorithmByCOSEID(id)
	if !ok {
		return dcc.Algorithm{}, dcc.SignatureFailure("unsupported COSE algorithm %d", id)
	}
	return alg, nil
}

// KID extracts the kid header, preferring the protected bucket,
// falling back to unprotected.
func (e *Envelope) KID() ([]byte, bool) {
	return e.bytesHeader(headerKID)
}

// Verify tries every candidate certificate in order and returns the
// first one whose public key verifies the signature. If candidates is
// empty, or none verify, it returns a SignatureFailure — matching the
// "single success wins, otherwise aggregate failure" rule.
func (e *Envelope) Verify(candidates []*x509.Certificate) (*x509.Certificate, error) {
	alg, err := e.Algorithm()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, dcc.SignatureFailure("no candidate certificates to verify against")
	}

	toBeVerified, err := canonicalEncMode.Marshal(&sigStructure1{
		Context:         sig1Context,
		ProtectedHeader: e.protectedRaw,
		External:        []byte{},
		Payload:         e.Payload,
	})
	if err != nil {
		return nil, dcc.CborError(err, "encoding Sig_structure1")
	}

	hasher := alg.Hash.New()
	hasher.Write(toBeVerified)
	digest := hasher.Sum(nil)

	for _, cert := range candidates {
		if err := dcc.AlgorithmForKey(cert.PublicKey, alg); err != nil {
			continue
		}
		if verifyOne(cert.PublicKey, alg, digest, e.signature) {
			return cert, nil
		}
	}
	return nil, dcc.SignatureFailure("signature did not verify against any of %d candidate certificate(s)", len(candidates))
}

func verifyOne(pub interface{}, alg dcc.Algorithm, digest, sig []byte) bool {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		r, s, err := rawOrDERtoRS(sig, alg.CurveOrderByteLen())
		if err != nil {
			return false
		}
		return ecdsa.Verify(key, digest, r, s)
	case *rsa.PublicKey:
		return rsa.VerifyPSS(key, alg.Hash, digest, sig, &rsa.PSSOptions{
			SaltLength: alg.Hash.Size(),
			Hash:       alg.Hash,
		}) == nil
	default:
		return false
	}
}

type ecdsaASN1Signature struct {
	R, S *big.Int
}

// derToRawECDSA converts an ASN.1 DER ECDSA signature (what
// crypto/ecdsa.PrivateKey.Sign returns) into the fixed-length raw
// r||s encoding the wire format requires.
func derToRawECDSA(der []byte, byteLen int) ([]byte, error) {
	var sig ecdsaASN1Signature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, err
	}
	raw := make([]byte, 2*byteLen)
	rBytes := sig.R.Bytes()
	sBytes := sig.S.Bytes()
	copy(raw[byteLen-len(rBytes):byteLen], rBytes)
	copy(raw[2*byteLen-len(sBytes):], sBytes)
	return raw, nil
}

// rawOrDERtoRS recovers r and s from either the fixed-length raw r||s
// encoding (the expected case) or an ASN.1 DER encoding, tolerated on
// decode only per spec.md §4.6.
func rawOrDERtoRS(sigBytes []byte, byteLen int) (r, s *big.Int, err error) {
	if len(sigBytes) == 2*byteLen {
		return new(big.Int).SetBytes(sigBytes[:byteLen]), new(big.Int).SetBytes(sigBytes[byteLen:]), nil
	}
	var sig ecdsaASN1Signature
	if _, err := asn1.Unmarshal(sigBytes, &sig); err != nil {
		return nil, nil, err
	}
	return sig.R, sig.S, nil
}
