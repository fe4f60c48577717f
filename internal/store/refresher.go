package store

import (
	"context"
	"crypto/x509"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ubirch/dcc-cose-service/internal/certsource"
)

// Refresher periodically rebuilds an in-memory certificate cache from
// the signer table and swaps it into an AtomicProvider. Adapted from
// the teacher's own loadSKIDs/setSkidStore periodic-reload goroutine
// (protocol.go), which polled an external trust-list server and swapped
// a whole map under a mutex on every tick; this does the same
// whole-snapshot swap, but polls this service's own database instead
// of a remote server, and counts consecutive failures the same way the
// teacher does before deciding to log loudly.
type Refresher struct {
	dm       *DatabaseManager
	target   *certsource.AtomicProvider
	interval time.Duration

	failCounter         int
	maxLoggedFailStreak int
}

// NewRefresher builds a Refresher that republishes into target every
// interval.
func NewRefresher(dm *DatabaseManager, target *certsource.AtomicProvider, interval time.Duration) *Refresher {
	return &Refresher{dm: dm, target: target, interval: interval, maxLoggedFailStreak: 3}
}

// Run loads once immediately, then reloads every interval until ctx is
// cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.reload()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload()
		}
	}
}

func (r *Refresher) reload() {
	records, err := r.dm.ListActiveSigners()
	if err != nil {
		r.failCounter++
		if r.failCounter >= r.maxLoggedFailStreak {
			log.Errorf("reloading signer cache failed %d times in a row: %v", r.failCounter, err)
		} else {
			log.Warnf("reloading signer cache failed: %v", err)
		}
		return
	}
	r.failCounter = 0

	fresh := certsource.NewMemory()
	for _, rec := range records {
		cert, err := x509.ParseCertificate(rec.CertDER)
		if err != nil {
			log.Errorf("signer %x: stored certificate does not parse: %v", rec.KID, err)
			continue
		}
		fresh.Register(rec.Country, cert)
	}

	r.target.Store(fresh)
	log.Infof("reloaded %d active signer certificates", len(records))
}
