// Package config loads the JSON configuration files the two fundmesh
// binaries start from (spec.md section 6's wire/catalogue formats use
// plain JSON, so configuration does too).
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// NodeConfig carries everything cmd/fundmesh-node needs to construct a
// node.Config, an inventory.Inventory and a catalogue.Catalogue.
type NodeConfig struct {
	Group         int    `json:"group"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
	DirectoryAddr string `json:"directoryAddress"`
	DirectoryPort int    `json:"directoryPort"`

	CataloguePath string         `json:"cataloguePath"`
	PreCommitDir  string         `json:"preCommitDir"`
	InitialStock  map[string]int `json:"initialStock"`
	SchedulePath  string         `json:"schedulePath"`
}

// DirectoryConfig carries everything cmd/fundmesh-directory needs to
// construct a directory.Directory.
type DirectoryConfig struct {
	Address string `json:"address"`
	Port    int    `json:"port"`

	InitialYear  int `json:"initialYear"`
	InitialMonth int `json:"initialMonth"`
	InitialDay   int `json:"initialDay"`
	InitialHour  int `json:"initialHour"`
}

// LoadNodeConfig reads and parses a NodeConfig from path.
func LoadNodeConfig(path string) (NodeConfig, error) {
	var cfg NodeConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// LoadDirectoryConfig reads and parses a DirectoryConfig from path.
func LoadDirectoryConfig(path string) (DirectoryConfig, error) {
	var cfg DirectoryConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}
