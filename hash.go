package gofreq

import (
	"github.com/dgryski/go-metro"
)

const hashSeed = 1373

// hashOf returns the 64-bit base hash of _data_ from which a sketch derives
// its probe positions. Per-instance randomization happens in the sketch's
// spread function, so the seed here is fixed.
func hashOf(data []byte) uint64 {
	h1, _ := metro.Hash128(data, hashSeed)
	return h1
}

// hashPairOf returns two 64-bit hashes of _data_ for structures that derive
// their positions with double hashing.
func hashPairOf(data []byte) (uint64, uint64) {
	return metro.Hash128(data, hashSeed)
}
