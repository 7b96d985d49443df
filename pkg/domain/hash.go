package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is an opaque 32-byte identifier used for vessel ids, recipe
// fingerprints, labels, conversion ids and the domain-separation tag.
type Hash [32]byte

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// MarshalText encodes the hash as hex so it can serve as a JSON map key.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a hex-encoded hash.
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(decoded) != len(h) {
		return fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HashFromHex parses a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// HashOf returns the SHA-256 digest over the concatenation of parts.
func HashOf(parts ...[]byte) Hash {
	d := sha256.New()
	for _, p := range parts {
		d.Write(p)
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Address identifies an external account (owner, keeper, beneficiary,
// treasury, crucible). 20 bytes, hex encoded in serialized form.
type Address [20]byte

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// MarshalText encodes the address as hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a hex-encoded address.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != len(a) {
		return fmt.Errorf("decode address: want %d bytes, got %d", len(a), len(decoded))
	}
	copy(a[:], decoded)
	return nil
}

// AddressFromHex parses a hex string into an Address.
func AddressFromHex(s string) (Address, error) {
	var a Address
	err := a.UnmarshalText([]byte(s))
	return a, err
}
