package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML node profile: provisioned tenants, pinned
// signer keys, and preloaded payload schemas.
type Profile struct {
	Name string `yaml:"name" json:"name"`
	// Tenants lists DIDs the gate provisions at startup.
	Tenants []string `yaml:"tenants,omitempty" json:"tenants,omitempty"`
	// SuspendedTenants are provisioned but refused.
	SuspendedTenants []string `yaml:"suspended_tenants,omitempty" json:"suspended_tenants,omitempty"`
	// Keys pins signer key material: key ID (did:...#fragment) to hex-encoded
	// Ed25519 public key.
	Keys map[string]string `yaml:"keys,omitempty" json:"keys,omitempty"`
	// Schemas maps schema URIs to JSON Schema files registered at startup.
	Schemas map[string]string `yaml:"schemas,omitempty" json:"schemas,omitempty"`
}

// LoadProfile reads and parses a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &profile, nil
}
