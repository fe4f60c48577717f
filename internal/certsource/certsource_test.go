package certsource

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

func selfSignedCert(t *testing.T, country string) *x509.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Country: []string{country}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestLookupByCountryOnly(t *testing.T) {
	m := NewMemory()
	cert := selfSignedCert(t, "DE")
	m.Register("DE", cert)

	found, err := m.Lookup(strPtr("DE"), nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestLookupByKIDOnly(t *testing.T) {
	m := NewMemory()
	cert := selfSignedCert(t, "DE")
	m.Register("DE", cert)

	kid := dcc.KID(cert)
	found, err := m.Lookup(nil, kid)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestLookupRefusesWhenBothAbsent(t *testing.T) {
	m := NewMemory()
	_, err := m.Lookup(nil, nil)
	require.Error(t, err)
}

func TestLookupReturnsEmptyForUnknownCountry(t *testing.T) {
	m := NewMemory()
	m.Register("DE", selfSignedCert(t, "DE"))

	found, err := m.Lookup(strPtr("FR"), nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func strPtr(s string) *string { return &s }
