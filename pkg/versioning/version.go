// Package versioning holds the versioned identity of the ledger kernel.
//
// The identity is compiled into the binary from identity.yaml. It is never
// read from the environment, flags, or files at runtime: every ledger header
// and every ledger hash depends on it, so two processes built from the same
// source must always agree on it.
package versioning

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed identity.yaml
var identityYAML []byte

// Identity is the versioned identity of the running kernel.
type Identity struct {
	KernelVersion     string `yaml:"kernel_version" json:"kernel_version"`
	SpecVersion       string `yaml:"spec_version" json:"spec_version"`
	HashAlgorithm     string `yaml:"hash_algorithm" json:"hash_algorithm"`
	CanonicalEncoding string `yaml:"canonical_encoding" json:"canonical_encoding"`
}

var (
	loadOnce sync.Once
	current  Identity
)

// Current returns the kernel identity. The embedded document is parsed once;
// a malformed document is a build defect and panics.
func Current() Identity {
	loadOnce.Do(func() {
		id, err := Parse(identityYAML)
		if err != nil {
			panic(fmt.Sprintf("versioning: embedded identity: %v", err))
		}
		current = id
	})
	return current
}

// Parse decodes and validates an identity document.
func Parse(data []byte) (Identity, error) {
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Validate requires strict SemVer versions and a named hash algorithm.
func (id Identity) Validate() error {
	if _, err := semver.StrictNewVersion(id.KernelVersion); err != nil {
		return fmt.Errorf("invalid kernel_version %q: %w", id.KernelVersion, err)
	}
	if _, err := semver.StrictNewVersion(id.SpecVersion); err != nil {
		return fmt.Errorf("invalid spec_version %q: %w", id.SpecVersion, err)
	}
	if id.HashAlgorithm == "" {
		return fmt.Errorf("hash_algorithm is required")
	}
	if id.CanonicalEncoding == "" {
		return fmt.Errorf("canonical_encoding is required")
	}
	return nil
}

// Matches reports whether a ledger header carries exactly this identity.
// Comparison is byte-exact: "1.0.0" and "v1.0.0" do not match.
func (id Identity) Matches(kernelVersion, specVersion, hashAlgorithm string) bool {
	return kernelVersion == id.KernelVersion &&
		specVersion == id.SpecVersion &&
		hashAlgorithm == id.HashAlgorithm
}

// String returns a compact form for logs and the version command.
func (id Identity) String() string {
	return fmt.Sprintf("kernel %s / spec %s / %s", id.KernelVersion, id.SpecVersion, id.HashAlgorithm)
}
