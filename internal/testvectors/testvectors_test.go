package testvectors

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubirch/dcc-cose-service/internal/codec"
	"github.com/ubirch/dcc-cose-service/internal/cose"
	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

type testSigner struct {
	priv *ecdsa.PrivateKey
	cert *x509.Certificate
}

func (s *testSigner) PrivateKey() (crypto.Signer, error)      { return s.priv, nil }
func (s *testSigner) Certificate() (*x509.Certificate, error) { return s.cert, nil }
func (s *testSigner) Algorithm() dcc.Algorithm                { return dcc.ES256 }

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Country: []string{"DE"}, CommonName: "test-signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testSigner{priv: priv, cert: cert}
}

func samplePayload(t *testing.T) dcc.Payload {
	t.Helper()
	dob, err := dcc.ParseLocalDate("1990-05-12")
	require.NoError(t, err)
	dt, err := dcc.ParseLocalDate("2021-06-01")
	require.NoError(t, err)
	return dcc.Payload{
		Version:     "1.3.0",
		Name:        dcc.Name{FamilyName: "Schmidt", GivenName: "Anna"},
		DateOfBirth: dob,
		Vaccinations: []dcc.VaccinationEntry{{
			Disease:      "840539006",
			Vaccine:      "1119305005",
			Product:      "EU/1/20/1528",
			Manufacturer: "ORG-100030215",
			DoseNumber:   1,
			DoseTotal:    2,
			Date:         dt,
			Country:      "DE",
			Issuer:       "Robert Koch-Institut",
			UVCI:         "URN:UVCI:01:DE:VECTOR1",
		}},
	}
}

func TestBuildProducesEveryStage(t *testing.T) {
	signer := newTestSigner(t)
	expiration := time.Now().Add(365 * 24 * time.Hour)

	v, err := Build(samplePayload(t), signer, expiration, codec.Options{}, cose.SignOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, v.PayloadCBOR)
	require.NotEmpty(t, v.CWT)
	require.NotEmpty(t, v.COSESign1)
	require.NotEmpty(t, v.Deflated)
	require.NotEmpty(t, v.Base45)
	require.Regexp(t, `^HC1:`, v.HC1)
	require.Equal(t, "DE", v.Issuer)
}

func TestValidateStageReversalSucceedsForWellFormedVector(t *testing.T) {
	signer := newTestSigner(t)
	v, err := Build(samplePayload(t), signer, time.Now().Add(time.Hour), codec.Options{}, cose.SignOptions{})
	require.NoError(t, err)
	require.NoError(t, ValidateStageReversal(v, codec.Options{}))
}

func TestValidateStageReversalCatchesCorruptBase45(t *testing.T) {
	signer := newTestSigner(t)
	v, err := Build(samplePayload(t), signer, time.Now().Add(time.Hour), codec.Options{}, cose.SignOptions{})
	require.NoError(t, err)

	v.Base45 = v.Base45[:len(v.Base45)-1] + "?"
	require.Error(t, ValidateStageReversal(v, codec.Options{}))
}
