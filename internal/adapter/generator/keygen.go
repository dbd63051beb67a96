package generator

import (
	"fmt"
	"math"

	"github.com/kvblast/kvblast/internal/core/ports"
)

// KeyGen maps a key index onto a printable key. The key is the decimal index
// zero-padded to a width drawn from the key-size distribution; hashing the
// index first makes the width assignment deterministic per index, so every
// connection and every agent renders the same key for the same index.
type KeyGen struct {
	sizer   ports.Generator
	records uint64
	minLen  int
}

func NewKeyGen(sizer ports.Generator, records uint64) *KeyGen {
	minLen := 1
	if records > 1 {
		minLen = int(math.Floor(math.Log10(float64(records)))) + 1
	}
	return &KeyGen{sizer: sizer, records: records, minLen: minLen}
}

func (k *KeyGen) Generate(index uint64) string {
	u := float64(fnv64(index)) / float64(math.MaxUint64)

	var width float64
	if q, ok := k.sizer.(Quantiler); ok {
		width = q.Quantile(u)
	} else {
		width = k.sizer.Generate()
	}

	n := int(math.Round(width))
	if n < k.minLen {
		n = k.minLen
	}
	if n > 250 {
		n = 250
	}
	return fmt.Sprintf("%0*d", n, index)
}

// fnv64 is the FNV-1a hash of the index's eight little-endian bytes.
func fnv64(v uint64) uint64 {
	const (
		offset = 0xcbf29ce484222325
		prime  = 0x100000001b3
	)
	h := uint64(offset)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= prime
		v >>= 8
	}
	return h
}
