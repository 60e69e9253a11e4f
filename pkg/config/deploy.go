package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeployFile is a docker-compose-style local deployment descriptor: the
// enclave binary's `-config` flag points at one of these so an operator can
// check deployment defaults into version control instead of wiring a long
// env var list. Values here are themselves overridden by environment
// variables, matching the teacher's `profile_loader.go` layering of a YAML
// base under env/flag overrides.
type DeployFile struct {
	ListenAddr          string `yaml:"listen_addr"`
	LogLevel            string `yaml:"log_level"`
	AttestationRootPath string `yaml:"attestation_root_path"`
	ScratchDir          string `yaml:"scratch_dir"`
	PoolBlobRoot        string `yaml:"pool_blob_root"`
	DebugViewEnabled    bool   `yaml:"debug_view_enabled"`
}

// LoadDeployFile parses a DeployFile from path.
func LoadDeployFile(path string) (*DeployFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deploy file %q: %w", path, err)
	}
	var f DeployFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse deploy file %q: %w", path, err)
	}
	return &f, nil
}

// LoadWithFile builds a Config from a DeployFile read at path, then
// applies the same environment-variable overrides Load does. An unset
// field in the file falls back to the reference deployment's hardcoded
// default, exactly as an unset environment variable would.
func LoadWithFile(path string) (*Config, error) {
	f, err := LoadDeployFile(path)
	if err != nil {
		return nil, err
	}

	d := hardcodedDefaults
	if f.ListenAddr != "" {
		d.listenAddr = f.ListenAddr
	}
	if f.LogLevel != "" {
		d.logLevel = f.LogLevel
	}
	if f.AttestationRootPath != "" {
		d.attestationRootPath = f.AttestationRootPath
	}
	if f.ScratchDir != "" {
		d.scratchDir = f.ScratchDir
	}
	if f.PoolBlobRoot != "" {
		d.poolBlobRoot = f.PoolBlobRoot
	}
	d.debugViewEnabled = f.DebugViewEnabled

	return load(d), nil
}
