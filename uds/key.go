package uds

import (
	"fmt"
	"strings"
)

// KeyAlgorithm derives the SecurityAccess key from a seed.
//
// Implementations must be pure: the same seed always yields the same key.
type KeyAlgorithm interface {
	DeriveKey(seed byte) []byte
}

// KeyFunc adapts an ordinary function to KeyAlgorithm.
type KeyFunc func(seed byte) []byte

func (f KeyFunc) DeriveKey(seed byte) []byte { return f(seed) }

// KeyVariant selects one of the built-in XOR key policies.
type KeyVariant uint8

const (
	// VariantSingle derives a one byte key: seed ^ C.
	VariantSingle KeyVariant = iota
	// VariantTriple derives a three byte key: (seed+i) ^ C for i = 0,1,2.
	VariantTriple
)

func (v KeyVariant) String() string {
	switch v {
	case VariantSingle:
		return "single"
	case VariantTriple:
		return "triple"
	default:
		return fmt.Sprintf("KeyVariant(%d)", uint8(v))
	}
}

// ParseKeyVariant parses "single" or "triple" (case-insensitive).
func ParseKeyVariant(s string) (KeyVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "1":
		return VariantSingle, nil
	case "triple", "3":
		return VariantTriple, nil
	default:
		return 0, fmt.Errorf("uds: unknown key variant %q", s)
	}
}

// XORSingle returns the single byte policy seed ^ c.
func XORSingle(c byte) KeyAlgorithm {
	return KeyFunc(func(seed byte) []byte {
		return []byte{seed ^ c}
	})
}

// XORTriple returns the three byte policy (seed+i) ^ c, i = 0,1,2.
// The addition wraps modulo 256.
func XORTriple(c byte) KeyAlgorithm {
	return KeyFunc(func(seed byte) []byte {
		key := make([]byte, 3)
		for i := range key {
			key[i] = (seed + byte(i)) ^ c //nolint:gosec // i < 3
		}
		return key
	})
}

// NewKeyAlgorithm returns the built-in policy for variant with XOR constant c.
func NewKeyAlgorithm(variant KeyVariant, c byte) (KeyAlgorithm, error) {
	switch variant {
	case VariantSingle:
		return XORSingle(c), nil
	case VariantTriple:
		return XORTriple(c), nil
	default:
		return nil, fmt.Errorf("uds: unsupported key variant %s", variant)
	}
}
