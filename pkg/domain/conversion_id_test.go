package domain

import (
	"testing"
	"time"
)

func baseSeed() ConversionSeed {
	return ConversionSeed{
		DomainTag:   HashOf([]byte("tag")),
		ChainID:     7,
		At:          time.Unix(1700000000, 0),
		Seq:         1,
		Beneficiary: Address{1},
		VesselID:    HashOf([]byte("vessel")),
		RecipeID:    3,
		InputAmount: 500,
	}
}

func TestDeriveConversionIDDeterministic(t *testing.T) {
	a := DeriveConversionID(baseSeed())
	b := DeriveConversionID(baseSeed())
	if a != b {
		t.Fatalf("same seed must derive same id")
	}
	if a.IsZero() {
		t.Fatalf("derived id should be nonzero")
	}
}

func TestDeriveConversionIDSensitivity(t *testing.T) {
	base := DeriveConversionID(baseSeed())
	mutations := []func(*ConversionSeed){
		func(s *ConversionSeed) { s.Seq++ },
		func(s *ConversionSeed) { s.ChainID++ },
		func(s *ConversionSeed) { s.InputAmount++ },
		func(s *ConversionSeed) { s.RecipeID++ },
		func(s *ConversionSeed) { s.Beneficiary[0]++ },
		func(s *ConversionSeed) { s.VesselID[0]++ },
		func(s *ConversionSeed) { s.Entropy[31] = 1 },
		func(s *ConversionSeed) { s.At = s.At.Add(time.Nanosecond) },
	}
	for i, mutate := range mutations {
		seed := baseSeed()
		mutate(&seed)
		if DeriveConversionID(seed) == base {
			t.Fatalf("mutation %d did not change the id", i)
		}
	}
}

func TestNewEntropyVaries(t *testing.T) {
	if NewEntropy() == NewEntropy() {
		t.Fatalf("entropy draws should differ")
	}
}
