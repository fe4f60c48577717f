// Copyright (c) 2019-2020 ubirch GmbH
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

// Package store is the Postgres-backed signer identity store: it holds
// one row per registered X.509 signer (its certificate, its
// AES-GCM-encrypted private key, and the algorithm it signs with) and
// exposes the read path (ListActiveSigners) that a background
// Refresher uses to fill a certsource.AtomicProvider.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ubirch/dcc-cose-service/internal/config"
)

const (
	postgresDriver   = "postgres"
	signerTableName  = "cose_signers"
	maxDbConnRetries = 5
)

// ErrNotExist is returned by lookups that find no matching row.
var ErrNotExist = errors.New("signer does not exist")

// ErrExists is returned by StoreSigner when the KID is already registered.
var ErrExists = errors.New("signer already exists")

// SignerRecord is one row of the signer identity table: a registered
// X.509 certificate, its encrypted private key, and the COSE algorithm
// it signs with.
type SignerRecord struct {
	Country      string
	KID          []byte
	CertDER      []byte
	EncryptedKey []byte
	Algorithm    string
	CreatedAt    time.Time
	Revoked      bool
}

// DatabaseManager holds the postgres connection pool and offers
// methods for storing and retrieving signer records.
type DatabaseManager struct {
	db        *sql.DB
	tableName string
}

// NewDatabaseManager opens a postgres connection pool per dsn, applies
// the connection-pool parameters from params, registers the pool's
// stats with the default Prometheus registry (the same
// dlmiddlecote/sqlstats wiring the teacher uses nowhere but the pack
// carries for exactly this purpose), and ensures the signer table
// exists.
func NewDatabaseManager(dsn string, params config.DatabaseParams) (*DatabaseManager, error) {
	db, err := sql.Open(postgresDriver, dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening postgres connection pool failed")
	}

	db.SetMaxOpenConns(params.MaxOpenConns)
	db.SetMaxIdleConns(params.MaxIdleConns)
	db.SetConnMaxLifetime(params.ConnMaxLifetime)
	db.SetConnMaxIdleTime(params.ConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		return nil, pkgerrors.Wrap(err, "pinging postgres failed")
	}

	collector := sqlstats.NewStatsCollector(signerTableName, db)
	if err := prometheus.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}

	log.Info("preparing postgres usage")

	dm := &DatabaseManager{db: db, tableName: signerTableName}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
		country VARCHAR(2) NOT NULL,
		kid BYTEA NOT NULL PRIMARY KEY,
		cert_der BYTEA NOT NULL,
		encrypted_key BYTEA NOT NULL,
		algorithm VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT false
	);`, dm.tableName)

	if _, err = dm.db.Exec(createTable); err != nil {
		return nil, err
	}

	return dm, nil
}

// Close releases the underlying connection pool.
func (dm *DatabaseManager) Close() error {
	return dm.db.Close()
}

// StoreSigner inserts a new signer row. Returns ErrExists if the KID
// is already registered.
func (dm *DatabaseManager) StoreSigner(rec SignerRecord) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (country, kid, cert_der, encrypted_key, algorithm, created_at, revoked) VALUES ($1, $2, $3, $4, $5, $6, $7);",
		dm.tableName)

	_, err := dm.db.Exec(query, rec.Country, rec.KID, rec.CertDER, rec.EncryptedKey, rec.Algorithm, rec.CreatedAt, rec.Revoked)
	if err != nil {
		if dm.isConnectionAvailable(err) {
			return dm.StoreSigner(rec)
		}
		if isUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

// GetByKID returns the signer record for kid, or ErrNotExist.
func (dm *DatabaseManager) GetByKID(kid []byte) (SignerRecord, error) {
	query := fmt.Sprintf(
		"SELECT country, kid, cert_der, encrypted_key, algorithm, created_at, revoked FROM %s WHERE kid = $1",
		dm.tableName)

	var rec SignerRecord
	err := dm.db.QueryRow(query, kid).Scan(&rec.Country, &rec.KID, &rec.CertDER, &rec.EncryptedKey, &rec.Algorithm, &rec.CreatedAt, &rec.Revoked)
	if err != nil {
		if dm.isConnectionAvailable(err) {
			return dm.GetByKID(kid)
		}
		if err == sql.ErrNoRows {
			return SignerRecord{}, ErrNotExist
		}
		return SignerRecord{}, err
	}
	return rec, nil
}

// ListActiveSigners returns every non-revoked signer record, used to
// rebuild the in-memory certificate cache.
func (dm *DatabaseManager) ListActiveSigners() ([]SignerRecord, error) {
	query := fmt.Sprintf(
		"SELECT country, kid, cert_der, encrypted_key, algorithm, created_at, revoked FROM %s WHERE NOT revoked",
		dm.tableName)

	rows, err := dm.db.Query(query)
	if err != nil {
		if dm.isConnectionAvailable(err) {
			return dm.ListActiveSigners()
		}
		return nil, err
	}
	defer rows.Close()

	var out []SignerRecord
	for rows.Next() {
		var rec SignerRecord
		if err := rows.Scan(&rec.Country, &rec.KID, &rec.CertDER, &rec.EncryptedKey, &rec.Algorithm, &rec.CreatedAt, &rec.Revoked); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetActiveByCountry returns the most recently created, non-revoked
// signer record for country, used by the encode endpoint to pick which
// signer signs a freshly issued certificate.
func (dm *DatabaseManager) GetActiveByCountry(country string) (SignerRecord, error) {
	query := fmt.Sprintf(
		"SELECT country, kid, cert_der, encrypted_key, algorithm, created_at, revoked FROM %s WHERE country = $1 AND NOT revoked ORDER BY created_at DESC LIMIT 1",
		dm.tableName)

	var rec SignerRecord
	err := dm.db.QueryRow(query, country).Scan(&rec.Country, &rec.KID, &rec.CertDER, &rec.EncryptedKey, &rec.Algorithm, &rec.CreatedAt, &rec.Revoked)
	if err != nil {
		if dm.isConnectionAvailable(err) {
			return dm.GetActiveByCountry(country)
		}
		if err == sql.ErrNoRows {
			return SignerRecord{}, ErrNotExist
		}
		return SignerRecord{}, err
	}
	return rec, nil
}

// RevokeSigner marks a signer record revoked so it is dropped from
// future cache reloads.
func (dm *DatabaseManager) RevokeSigner(kid []byte) error {
	query := fmt.Sprintf("UPDATE %s SET revoked = true WHERE kid = $1;", dm.tableName)
	res, err := dm.db.Exec(query, kid)
	if err != nil {
		if dm.isConnectionAvailable(err) {
			return dm.RevokeSigner(kid)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotExist
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}

// isConnectionAvailable reports a transient connection-limit error
// worth an immediate retry, mirroring the teacher's own
// isConnectionAvailable check in its database manager.
func (dm *DatabaseManager) isConnectionAvailable(err error) bool {
	if err.Error() == pq.ErrorCode("53300").Name() || // too_many_connections
		err.Error() == pq.ErrorCode("53400").Name() { // configuration_limit_exceeded
		time.Sleep(100 * time.Millisecond)
		return true
	}
	return false
}
