// Package certsource defines the CertificateProvider contract of
// spec.md §6 and a small in-memory implementation used by tests and by
// the HTTP facade's KID cache (§5). In production, internal/store's
// Refresher rebuilds a Memory from the Postgres signer table and swaps
// it into an AtomicProvider.
package certsource

import (
	"crypto/x509"
	"sync"
	"sync/atomic"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// Provider is "CertificateProvider.lookup(country, kid) →
// sequence<X509Certificate>" of spec.md §6. country and kid are each
// optional; callers that have neither must not call Lookup.
type Provider interface {
	Lookup(country *string, kid []byte) ([]*x509.Certificate, error)
}

// entry is one registered certificate, indexed by both of its lookup
// keys.
type entry struct {
	country string
	kid     []byte
	cert    *x509.Certificate
}

// Memory is an in-memory Provider, safe for concurrent use. It backs
// unit tests and can seed the HTTP facade's cache from a static
// bundle of trusted certificates.
type Memory struct {
	mu      sync.RWMutex
	entries []entry
}

// NewMemory builds an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{}
}

// Register adds cert under the given ISO-3166 country code, indexed
// by the KID derived from its DER encoding.
func (m *Memory) Register(country string, cert *x509.Certificate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{country: country, kid: dcc.KID(cert), cert: cert})
}

// Lookup implements Provider. When country is nil, every certificate
// matching kid is returned; when kid is nil, every certificate for
// country; when both are present, both must match.
func (m *Memory) Lookup(country *string, kid []byte) ([]*x509.Certificate, error) {
	if country == nil && len(kid) == 0 {
		return nil, dcc.NoCertificate("lookup requires country, kid, or both")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*x509.Certificate
	for _, e := range m.entries {
		if country != nil && e.country != *country {
			continue
		}
		if len(kid) > 0 && string(e.kid) != string(kid) {
			continue
		}
		out = append(out, e.cert)
	}
	return out, nil
}

// AtomicProvider holds a whole-snapshot Provider behind an atomic
// pointer swap, so a background reloader can replace the entire
// trusted-certificate set without callers ever observing a partially
// updated view. Generalized from the teacher's own skidStore
// (protocol.go's setSkidStore/skidStoreMutex pattern), which swapped a
// whole map under a mutex rather than mutating it in place; this does
// the same swap lock-free.
type AtomicProvider struct {
	v atomic.Value
}

// NewAtomicProvider wraps initial (nil is fine; Lookup refuses until
// the first Store).
func NewAtomicProvider(initial Provider) *AtomicProvider {
	a := &AtomicProvider{}
	if initial != nil {
		a.v.Store(initial)
	}
	return a
}

// Store atomically replaces the provider consulted by Lookup.
func (a *AtomicProvider) Store(p Provider) {
	a.v.Store(p)
}

// Lookup implements Provider by delegating to the current snapshot.
func (a *AtomicProvider) Lookup(country *string, kid []byte) ([]*x509.Certificate, error) {
	p, _ := a.v.Load().(Provider)
	if p == nil {
		return nil, dcc.NoCertificate("no certificate snapshot loaded yet")
	}
	return p.Lookup(country, kid)
}
