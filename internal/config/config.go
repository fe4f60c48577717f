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

package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	log "github.com/sirupsen/logrus"
)

const (
	secretLength = 32

	defaultTCPAddr = ":8080"

	defaultTLSCertFile = "cert.pem"
	defaultTLSKeyFile  = "key.pem"

	defaultDbMaxOpenConns    = 10
	defaultDbMaxIdleConns    = 10
	defaultDbConnMaxLifetime = 10
	defaultDbConnMaxIdleTime = 1

	defaultCertReloadInterval = time.Hour
)

// DatabaseParams carries the parsed, typed connection-pool knobs for
// database/sql, split out from Config's string-typed JSON/env fields
// the way the teacher keeps them separate.
type DatabaseParams struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Config is the service configuration, loadable from either
// environment variables or a JSON file, mirroring the teacher's dual
// loading strategy.
type Config struct {
	SecretBase64      string `json:"secret32" envconfig:"SECRET32"`                       // 32 byte secret used to encrypt signer private keys at rest (mandatory)
	RegisterAuth      string `json:"registerAuth" envconfig:"REGISTERAUTH"`               // auth token required to register a new signer identity
	PostgresDSN       string `json:"postgresDSN" envconfig:"POSTGRES_DSN"`                // data source name for postgres database
	DbMaxOpenConns    string `json:"dbMaxOpenConns" envconfig:"DB_MAX_OPEN_CONNS"`        // maximum number of open connections to the database
	DbMaxIdleConns    string `json:"dbMaxIdleConns" envconfig:"DB_MAX_IDLE_CONNS"`        // maximum number of connections in the idle connection pool
	DbConnMaxLifetime string `json:"dbConnMaxLifetime" envconfig:"DB_CONN_MAX_LIFETIME"`  // maximum amount of time in minutes a connection may be reused
	DbConnMaxIdleTime string `json:"dbConnMaxIdleTime" envconfig:"DB_CONN_MAX_IDLE_TIME"` // maximum amount of time in minutes a connection may be idle
	TCPAddr           string `json:"TCP_addr"`                                            // the TCP address for the server to listen on, in the form "host:port"
	TLS               bool   `json:"TLS"`                                                 // enable serving HTTPS endpoints, defaults to 'false'
	TLSCertFile       string `json:"TLSCertFile"`                                         // filename of TLS certificate file, defaults to "cert.pem"
	TLSKeyFile        string `json:"TLSKeyFile"`                                          // filename of TLS key file, defaults to "key.pem"
	Debug             bool   `json:"debug"`                                              // enable extended debug output, defaults to 'false'
	LogTextFormat     bool   `json:"logTextFormat"`                                       // log in text format for better human readability, default format is JSON

	// CertReloadEveryMinute makes the certificate cache re-read the
	// signer table once a minute instead of once an hour. Mirrors the
	// teacher's own ReloadCertsEveryMinute toggle, repurposed from
	// polling an external trust-list server to polling this service's
	// own signer store.
	CertReloadEveryMinute bool `json:"certReloadEveryMinute" envconfig:"RELOAD_CERTS_EVERY_MINUTE"`

	configDir        string // directory where config and TLS material are stored
	secretBytes      []byte // the decoded private-key-encryption secret
	dbParams         DatabaseParams
	certReloadPeriod time.Duration
}

// Load reads the configuration, preferring environment variables (when
// DCC_SECRET32 is set) and falling back to a JSON file otherwise, per
// the teacher's own env-vs-file convention.
func (c *Config) Load(configDir string, filename string) error {
	c.configDir = configDir

	var err error
	if os.Getenv("DCC_SECRET32") != "" {
		err = c.loadEnv()
	} else {
		err = c.loadFile(filename)
	}
	if err != nil {
		return err
	}

	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if c.LogTextFormat {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000 -0700"})
	}

	c.secretBytes, err = base64.StdEncoding.DecodeString(c.SecretBase64)
	if err != nil {
		return fmt.Errorf("unable to decode base64 encoded secret: %v", err)
	}

	if err = c.checkMandatory(); err != nil {
		return err
	}

	c.setDefaultTLS()
	c.setDefaultCertReload()

	return c.setDbParams()
}

// loadEnv reads the configuration from environment variables.
func (c *Config) loadEnv() error {
	log.Infof("loading configuration from environment variables")
	return envconfig.Process("dcc", c)
}

// loadFile reads the configuration from a JSON file.
func (c *Config) loadFile(filename string) error {
	configFile := filepath.Join(c.configDir, filename)
	log.Infof("loading configuration from file: %s", configFile)

	fileHandle, err := os.Open(configFile)
	if err != nil {
		return err
	}
	defer fileHandle.Close()

	return json.NewDecoder(fileHandle).Decode(c)
}

func (c *Config) checkMandatory() error {
	if len(c.secretBytes) != secretLength {
		return fmt.Errorf("secret for key encryption ('secret32') length must be %d bytes (is %d)", secretLength, len(c.secretBytes))
	}

	if len(c.RegisterAuth) == 0 {
		return fmt.Errorf("auth token for signer registration ('registerAuth') wasn't set")
	}

	if len(c.PostgresDSN) == 0 {
		return fmt.Errorf("missing 'postgresDSN' in configuration")
	}

	return nil
}

func (c *Config) setDefaultTLS() {
	if c.TCPAddr == "" {
		c.TCPAddr = defaultTCPAddr
	}
	log.Debugf("TCP address: %s", c.TCPAddr)

	if c.TLS {
		log.Debug("TLS enabled")

		if c.TLSCertFile == "" {
			c.TLSCertFile = defaultTLSCertFile
		}
		c.TLSCertFile = filepath.Join(c.configDir, c.TLSCertFile)
		log.Debugf(" - Cert: %s", c.TLSCertFile)

		if c.TLSKeyFile == "" {
			c.TLSKeyFile = defaultTLSKeyFile
		}
		c.TLSKeyFile = filepath.Join(c.configDir, c.TLSKeyFile)
		log.Debugf(" -  Key: %s", c.TLSKeyFile)
	}
}

func (c *Config) setDefaultCertReload() {
	if c.CertReloadEveryMinute {
		c.certReloadPeriod = time.Minute
	} else {
		c.certReloadPeriod = defaultCertReloadInterval
	}
}

// CertReloadPeriod returns how often the signer cache should be
// refreshed from the store.
func (c *Config) CertReloadPeriod() time.Duration {
	return c.certReloadPeriod
}

// SecretBytes returns the decoded private-key-encryption secret.
func (c *Config) SecretBytes() []byte {
	return c.secretBytes
}

// DBParams returns the parsed connection-pool parameters.
func (c *Config) DBParams() DatabaseParams {
	return c.dbParams
}

func (c *Config) setDbParams() error {
	if c.DbMaxOpenConns == "" {
		c.dbParams.MaxOpenConns = defaultDbMaxOpenConns
	} else {
		i, err := strconv.Atoi(c.DbMaxOpenConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxOpenConns: %v", err)
		}
		c.dbParams.MaxOpenConns = i
	}

	if c.DbMaxIdleConns == "" {
		c.dbParams.MaxIdleConns = defaultDbMaxIdleConns
	} else {
		i, err := strconv.Atoi(c.DbMaxIdleConns)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter MaxIdleConns: %v", err)
		}
		c.dbParams.MaxIdleConns = i
	}

	if c.DbConnMaxLifetime == "" {
		c.dbParams.ConnMaxLifetime = defaultDbConnMaxLifetime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxLifetime: %v", err)
		}
		c.dbParams.ConnMaxLifetime = time.Duration(i) * time.Minute
	}

	if c.DbConnMaxIdleTime == "" {
		c.dbParams.ConnMaxIdleTime = defaultDbConnMaxIdleTime * time.Minute
	} else {
		i, err := strconv.Atoi(c.DbConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to set DB parameter ConnMaxIdleTime: %v", err)
		}
		c.dbParams.ConnMaxIdleTime = time.Duration(i) * time.Minute
	}

	return nil
}
