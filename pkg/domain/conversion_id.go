package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// ConversionSeed collects every input folded into a conversion identifier.
// The sequence number advances only on committed resolutions, so identifiers
// never collide even for identical requests in the same instant; the entropy
// term keeps them unpredictable.
type ConversionSeed struct {
	DomainTag   Hash
	ChainID     uint64
	At          time.Time
	Seq         uint64
	Beneficiary Address
	VesselID    Hash
	RecipeID    uint64
	InputAmount uint64
	Entropy     [32]byte
}

// DeriveConversionID hashes the seed into a 32-byte identifier using a
// fixed-width SHA-256 encoding. Collision probability is treated as
// cryptographically negligible.
func DeriveConversionID(seed ConversionSeed) Hash {
	d := sha256.New()
	d.Write(seed.DomainTag[:])
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], seed.ChainID)
	d.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(seed.At.UnixNano()))
	d.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], seed.Seq)
	d.Write(u64[:])
	d.Write(seed.Beneficiary[:])
	d.Write(seed.VesselID[:])
	binary.BigEndian.PutUint64(u64[:], seed.RecipeID)
	d.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], seed.InputAmount)
	d.Write(u64[:])
	d.Write(seed.Entropy[:])
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// NewEntropy draws 32 bytes from the platform CSPRNG.
func NewEntropy() [32]byte {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return b
}
