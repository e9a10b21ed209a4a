package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
	assert.Same(t, c, Get())

	c, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
}

func TestLoadConfigJSONMergesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeFile(t, "config.json", `{"db_file": "/var/lib/bmc/ledger.db", "port": 9090}`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bmc/ledger.db", c.DBFile)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "bmc_key.pem", c.KeyFile)
	assert.Equal(t, "unix://bmc.sock", c.ABCISocket)
	assert.Equal(t, 20, c.MaxBackups)
}

func TestLoadConfigYAML(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeFile(t, "config.yaml", `
key_file: /etc/bmc/key.pem
log_level: debug
tendermint_rpc: http://10.0.0.2:26657
run_tendermint: true
tendermint_home: /var/lib/bmc/tendermint
genesis:
  "0x00000000000000000000000000000000000000aa": "5000000000000000000"
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/bmc/key.pem", c.KeyFile)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "http://10.0.0.2:26657", c.TendermintRPC)
	assert.True(t, c.RunTendermint)
	assert.Equal(t, "/var/lib/bmc/tendermint", c.TendermintHome)
	assert.Equal(t, "5000000000000000000", c.Genesis["0x00000000000000000000000000000000000000aa"])
	assert.Equal(t, "ledger.db", c.DBFile)
}

func TestLoadConfigParseError(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "broken.json", `{"port": "eighty"`))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "broken.yml", "port: [1, 2"))
	assert.Error(t, err)
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "7070")
	c, err := LoadConfig(writeFile(t, "config.json", `{"port": 9090}`))
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Port)

	t.Setenv("PORT", "not-a-port")
	c, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
}
