// manifest.go: Module manifest parsing and generation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TransportType identifies how a host reaches a served module.
type TransportType string

// TransportGRPC is the gRPC wire protocol served by ModuleServer. It is
// the only transport this library speaks.
const TransportGRPC TransportType = "grpc"

// ModuleManifest describes a served analysis module so hosts can find and
// dial it without loading the module in process. It supports both JSON and
// YAML on disk.
//
// Example JSON manifest:
//
//	{
//	  "name": "EntropyModule",
//	  "version": "1.0.0",
//	  "description": "Computes the Shannon byte entropy of file content",
//	  "attribute_kinds": ["ENTROPY"],
//	  "transport": "grpc",
//	  "endpoint": "127.0.0.1:7421"
//	}
type ModuleManifest struct {
	ModuleInfo `yaml:",inline"`

	Transport TransportType `json:"transport" yaml:"transport"`
	Endpoint  string        `json:"endpoint" yaml:"endpoint"`
}

// ParseManifest parses manifest bytes, trying JSON first and falling back
// to YAML, and validates the result.
func ParseManifest(data []byte) (*ModuleManifest, error) {
	var manifest ModuleManifest

	if jerr := json.Unmarshal(data, &manifest); jerr != nil {
		if yerr := yaml.Unmarshal(data, &manifest); yerr != nil {
			return nil, NewManifestParseError("", yerr)
		}
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// LoadManifest reads and parses a manifest file. The path must be absolute
// once cleaned, which keeps manifest loading from following relative paths
// out of the host's module directory.
func LoadManifest(path string) (*ModuleManifest, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, NewManifestPathError(path, "manifest path must be absolute")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, NewManifestPathError(cleanPath, "failed to read manifest file")
	}

	manifest, perr := ParseManifest(data)
	if perr != nil {
		return nil, perr
	}
	return manifest, nil
}

// Validate checks that the manifest carries everything a host needs to
// dial the module.
func (m *ModuleManifest) Validate() error {
	if m.Name == "" {
		return NewManifestValidationError("module name is required")
	}
	if m.Version == "" {
		return NewManifestValidationError("module version is required")
	}
	if m.Transport != TransportGRPC {
		return NewManifestValidationError("unsupported transport: " + string(m.Transport))
	}
	if m.Endpoint == "" {
		return NewManifestValidationError("module endpoint is required")
	}
	return nil
}

// JSON renders the manifest as indented JSON.
func (m *ModuleManifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, NewManifestParseError("", err)
	}
	return data, nil
}

// YAML renders the manifest as YAML.
func (m *ModuleManifest) YAML() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, NewManifestParseError("", err)
	}
	return data, nil
}
