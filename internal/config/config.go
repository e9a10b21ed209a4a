// Package config centralizes runtime configuration for bmc. It loads a JSON
// or YAML configuration file and exposes a process-wide configuration with
// sensible defaults. Development builds run on defaults when the file is not
// present. Operators place a file at /etc/bmc/config.yaml or name another
// path with the BMC_CONFIG env var.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the configuration file.
const EnvConfigFile = "BMC_CONFIG"

// Config holds configurable options for the bmc node.
type Config struct {
	KeyFile       string `json:"key_file" yaml:"key_file"`
	DBFile        string `json:"db_file" yaml:"db_file"`
	Port          int    `json:"port" yaml:"port"`
	ABCISocket    string `json:"abci_socket" yaml:"abci_socket"`
	TendermintRPC string `json:"tendermint_rpc" yaml:"tendermint_rpc"`
	// RunTendermint starts a `tendermint node` child process wired to
	// ABCISocket, initializing TendermintHome on first run.
	RunTendermint  bool   `json:"run_tendermint" yaml:"run_tendermint"`
	TendermintHome string `json:"tendermint_home" yaml:"tendermint_home"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogFile        string `json:"log_file" yaml:"log_file"`
	DocsDir        string `json:"docs_dir" yaml:"docs_dir"`
	MaxBackups     int    `json:"max_backups" yaml:"max_backups"`
	// Genesis seeds bank balances (address to decimal minimal units) when
	// the chain starts without app_state in its genesis file.
	Genesis map[string]string `json:"genesis" yaml:"genesis"`
}

var cfg *Config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		KeyFile:       "bmc_key.pem",
		DBFile:        "ledger.db",
		Port:          8080,
		ABCISocket:    "unix://bmc.sock",
		TendermintRPC: "http://localhost:26657",
		LogLevel:      "info",
		LogFile:       "",
		DocsDir:       "docs",
		MaxBackups:    20,
	}
}

// LoadConfig reads the file at path, choosing YAML for .yaml/.yml and JSON
// otherwise. A missing path or file yields defaults; a file that cannot be
// parsed is an error. Zero-value fields are filled from defaults and the
// PORT env var overrides the HTTP port.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	if path == "" {
		cfg = applyEnv(def)
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = applyEnv(def)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = json.Unmarshal(b, &c)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	// merge defaults for any zero-value fields
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.TendermintRPC == "" {
		c.TendermintRPC = def.TendermintRPC
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}

	cfg = applyEnv(&c)
	return cfg, nil
}

func applyEnv(c *Config) *Config {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port <= 65535 {
			c.Port = port
		}
	}
	return c
}

// Path returns the configuration file named by BMC_CONFIG, if any.
func Path() string {
	return os.Getenv(EnvConfigFile)
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		LoadConfig("")
	}
	return cfg
}
