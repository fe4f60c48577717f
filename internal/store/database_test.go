package store

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
)

// These tests exercise the pure, DB-free parts of the package
// (encryption round trip, record assembly) without requiring a live
// postgres instance; DatabaseManager itself is not exercised here.

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	plaintext := []byte("pkcs8 private key bytes, stand-in for test purposes")

	ciphertext, err := EncryptKey(secret, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptKey(secret, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptKeyRejectsWrongSecret(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	ciphertext, err := EncryptKey(secret, []byte("some plaintext"))
	require.NoError(t, err)

	wrongSecret := make([]byte, 32)
	_, err = rand.Read(wrongSecret)
	require.NoError(t, err)

	_, err = DecryptKey(wrongSecret, ciphertext)
	require.Error(t, err)
}

func TestSignerFromRecordRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Country: []string{"DE"}, CommonName: "test-signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	secret := make([]byte, 32)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	encryptedKey, err := EncryptKey(secret, keyDER)
	require.NoError(t, err)

	rec := SignerRecord{
		Country:      "DE",
		KID:          []byte{1, 2, 3, 4, 5, 6, 7, 8},
		CertDER:      certDER,
		EncryptedKey: encryptedKey,
		Algorithm:    "ES256",
		CreatedAt:    time.Now().UTC(),
	}

	signer, err := signerFromRecord(rec, secret)
	require.NoError(t, err)

	cert, err := signer.Certificate()
	require.NoError(t, err)
	require.Equal(t, "DE", cert.Subject.Country[0])

	cryptoSigner, err := signer.PrivateKey()
	require.NoError(t, err)
	require.NotNil(t, cryptoSigner)
}

func TestSignerFromRecordRejectsUnknownAlgorithm(t *testing.T) {
	_, err := signerFromRecord(SignerRecord{Algorithm: "bogus"}, make([]byte, 32))
	require.Error(t, err)
}
