package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Validator is one host running a bmc node.
type Validator struct {
	Host      string `yaml:"host"`
	User      string `yaml:"user"`
	RemoteDir string `yaml:"remote_dir"`
	// HTTPPort is the bmc API port checked after start.
	HTTPPort int `yaml:"http_port"`
}

// Inventory lists the validators of a network.
type Inventory struct {
	User       string      `yaml:"user"`
	RemoteDir  string      `yaml:"remote_dir"`
	HTTPPort   int         `yaml:"http_port"`
	Validators []Validator `yaml:"validators"`
}

const (
	defaultUser      = "bmc"
	defaultRemoteDir = "/home/bmc/bmc-node"
	defaultHTTPPort  = 8080
)

// loadInventory reads a YAML inventory. Per-validator fields fall back to
// the inventory-wide values and then to the built-in defaults.
func loadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read inventory")
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, errors.Wrapf(err, "parse inventory %s", path)
	}
	inv.fillDefaults()
	return &inv, nil
}

func (inv *Inventory) fillDefaults() {
	if inv.User == "" {
		inv.User = defaultUser
	}
	if inv.RemoteDir == "" {
		inv.RemoteDir = defaultRemoteDir
	}
	if inv.HTTPPort == 0 {
		inv.HTTPPort = defaultHTTPPort
	}
	for i := range inv.Validators {
		v := &inv.Validators[i]
		if v.User == "" {
			v.User = inv.User
		}
		if v.RemoteDir == "" {
			v.RemoteDir = inv.RemoteDir
		}
		if v.HTTPPort == 0 {
			v.HTTPPort = inv.HTTPPort
		}
	}
}

// selectValidators filters the inventory by a comma-separated host list;
// "all" or "" selects every validator. Hosts missing from the inventory get
// the inventory defaults.
func (inv *Inventory) selectValidators(hosts string) []Validator {
	if hosts == "" || hosts == "all" {
		return append([]Validator{}, inv.Validators...)
	}

	known := make(map[string]Validator, len(inv.Validators))
	for _, v := range inv.Validators {
		known[v.Host] = v
	}

	var selected []Validator
	for _, p := range strings.Split(hosts, ",") {
		h := strings.TrimSpace(p)
		if h == "" {
			continue
		}
		v, ok := known[h]
		if !ok {
			v = Validator{Host: h, User: inv.User, RemoteDir: inv.RemoteDir, HTTPPort: inv.HTTPPort}
		}
		selected = append(selected, v)
	}
	return selected
}
