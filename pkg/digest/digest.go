// Package digest provides the deterministic one-way hash used by the kernel.
//
// Output is lowercase hexadecimal. No salt, no key, no per-call state: equal
// input gives equal output on any machine.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

// Algorithm names accepted by Lookup.
const (
	SHA256   = "sha256"
	SHA3_256 = "sha3-256"
	BLAKE3   = "blake3"
)

// Func hashes bytes to a lowercase hex string.
type Func func(data []byte) string

var registry = map[string]Func{
	SHA256: func(data []byte) string {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	},
	SHA3_256: func(data []byte) string {
		sum := sha3.Sum256(data)
		return hex.EncodeToString(sum[:])
	},
	BLAKE3: func(data []byte) string {
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	},
}

// Lookup returns the hash function registered under name.
func Lookup(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, kernelerr.NewInvalidInput("unknown hash algorithm", kernelerr.StageDigest,
			map[string]any{"algorithm": name, "supported": Algorithms()})
	}
	return fn, nil
}

// Algorithms lists the registered algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kernel returns the hash function named by the kernel identity. The
// identity is a build-time constant, so an unknown name is a build defect.
func Kernel() Func {
	fn, err := Lookup(versioning.Current().HashAlgorithm)
	if err != nil {
		panic("digest: kernel hash algorithm is not registered: " + versioning.Current().HashAlgorithm)
	}
	return fn
}

// Digest hashes data with the kernel algorithm.
func Digest(data []byte) string {
	return Kernel()(data)
}

// Hasher provides deterministic hashing of structured values.
type Hasher interface {
	Hash(v any) (string, error)
}

// CanonicalHasher hashes the canonical form of a value.
type CanonicalHasher struct {
	sum Func
}

// NewCanonicalHasher returns a hasher using the kernel algorithm.
func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{sum: Kernel()}
}

// NewCanonicalHasherWith returns a hasher using fn.
func NewCanonicalHasherWith(fn Func) *CanonicalHasher {
	return &CanonicalHasher{sum: fn}
}

// Hash canonicalizes v and digests the result. Canonicalization errors are
// returned unchanged.
func (h *CanonicalHasher) Hash(v any) (string, error) {
	b, err := canonicalize.Marshal(v)
	if err != nil {
		return "", err
	}
	return h.sum(b), nil
}
