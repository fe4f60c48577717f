package store

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// EncryptKey seals plaintext (a PKCS#8 DER private key) under secret
// using AES-256-GCM, the stdlib AEAD construction: no pack dependency
// offers authenticated encryption, and this is exactly the primitive
// Go's own crypto/cipher package exists for.
func EncryptKey(secret, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptKey reverses EncryptKey.
func DecryptKey(secret, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// DBSigner is the Postgres-backed dcc.Signer implementation: one
// concrete PkiCredential reading its certificate and decrypted private
// key out of a SignerRecord. Grounded on the teacher's own
// Protocol/ContextManager split (context_manager.go), generalized to
// the three-method dcc.Signer trait.
type DBSigner struct {
	priv crypto.Signer
	cert *x509.Certificate
	alg  dcc.Algorithm
}

// LoadSigner fetches the record for kid, decrypts its private key with
// secret, and returns a ready-to-use Signer.
func LoadSigner(dm *DatabaseManager, secret []byte, kid []byte) (*DBSigner, error) {
	rec, err := dm.GetByKID(kid)
	if err != nil {
		return nil, err
	}
	return signerFromRecord(rec, secret)
}

func signerFromRecord(rec SignerRecord, secret []byte) (*DBSigner, error) {
	alg, ok := algByName(rec.Algorithm)
	if !ok {
		return nil, dcc.InvariantViolation("unknown algorithm %q in stored signer record", rec.Algorithm)
	}

	cert, err := x509.ParseCertificate(rec.CertDER)
	if err != nil {
		return nil, dcc.InvariantViolation("stored certificate does not parse: %v", err)
	}

	keyDER, err := DecryptKey(secret, rec.EncryptedKey)
	if err != nil {
		return nil, dcc.InvariantViolation("stored private key does not decrypt: %v", err)
	}

	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, dcc.InvariantViolation("stored private key does not parse: %v", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, dcc.InvariantViolation("stored private key type %T is not a crypto.Signer", key)
	}

	if err := dcc.AlgorithmForKey(cert.PublicKey, alg); err != nil {
		return nil, err
	}

	return &DBSigner{priv: signer, cert: cert, alg: alg}, nil
}

func (s *DBSigner) PrivateKey() (crypto.Signer, error)      { return s.priv, nil }
func (s *DBSigner) Certificate() (*x509.Certificate, error) { return s.cert, nil }
func (s *DBSigner) Algorithm() dcc.Algorithm                { return s.alg }

var byName = map[string]dcc.Algorithm{
	dcc.ES256.Name: dcc.ES256,
	dcc.ES384.Name: dcc.ES384,
	dcc.ES512.Name: dcc.ES512,
	dcc.PS256.Name: dcc.PS256,
	dcc.PS384.Name: dcc.PS384,
	dcc.PS512.Name: dcc.PS512,
}

func algByName(name string) (dcc.Algorithm, bool) {
	a, ok := byName[name]
	return a, ok
}

// RegisterSigner encrypts and persists a new signer identity: certDER
// is the X.509 certificate (DER), keyDER is the PKCS#8 private key
// (DER), both typically decoded from PEM by the caller (the HTTP
// registration handler).
func RegisterSigner(dm *DatabaseManager, secret []byte, algorithmName string, certDER, keyDER []byte) (SignerRecord, error) {
	alg, ok := algByName(algorithmName)
	if !ok {
		return SignerRecord{}, dcc.SchemaError("unsupported algorithm %q", algorithmName)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return SignerRecord{}, dcc.SchemaError("invalid certificate: %v", err)
	}
	if len(cert.Subject.Country) == 0 {
		return SignerRecord{}, dcc.SchemaError("certificate has no Subject C= attribute")
	}

	if err := dcc.AlgorithmForKey(cert.PublicKey, alg); err != nil {
		return SignerRecord{}, err
	}

	if _, err := x509.ParsePKCS8PrivateKey(keyDER); err != nil {
		return SignerRecord{}, dcc.SchemaError("invalid private key: %v", err)
	}

	encrypted, err := EncryptKey(secret, keyDER)
	if err != nil {
		return SignerRecord{}, dcc.InvariantViolation("encrypting private key failed: %v", err)
	}

	rec := SignerRecord{
		Country:      cert.Subject.Country[0],
		KID:          dcc.KID(cert),
		CertDER:      certDER,
		EncryptedKey: encrypted,
		Algorithm:    alg.Name,
		CreatedAt:    time.Now().UTC(),
	}

	if err := dm.StoreSigner(rec); err != nil {
		return SignerRecord{}, err
	}
	return rec, nil
}
