package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir string, cfg map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0600))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, map[string]interface{}{
		"secret32":     "MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=", // base64 of 32 bytes
		"registerAuth": "topsecret",
		"postgresDSN":  "postgres://localhost/dcc",
	})

	c := &Config{}
	err := c.Load(dir, "config.json")
	require.NoError(t, err)

	require.Equal(t, 32, len(c.SecretBytes()))
	require.Equal(t, defaultTCPAddr, c.TCPAddr)
	require.Equal(t, defaultCertReloadInterval, c.CertReloadPeriod())
	require.Equal(t, defaultDbMaxOpenConns, c.DBParams().MaxOpenConns)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, map[string]interface{}{
		"secret32":     "dG9vc2hvcnQ=", // "tooshort", not 32 bytes
		"registerAuth": "topsecret",
		"postgresDSN":  "postgres://localhost/dcc",
	})

	c := &Config{}
	err := c.Load(dir, "config.json")
	require.Error(t, err)
}

func TestLoadRejectsMissingRegisterAuth(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, map[string]interface{}{
		"secret32":    "MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=",
		"postgresDSN": "postgres://localhost/dcc",
	})

	c := &Config{}
	err := c.Load(dir, "config.json")
	require.Error(t, err)
}

func TestSetDefaultCertReloadEveryMinute(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, map[string]interface{}{
		"secret32":              "MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA=",
		"registerAuth":          "topsecret",
		"postgresDSN":           "postgres://localhost/dcc",
		"certReloadEveryMinute": true,
	})

	c := &Config{}
	err := c.Load(dir, "config.json")
	require.NoError(t, err)
	require.Equal(t, defaultCertReloadInterval/60, c.CertReloadPeriod())
}
