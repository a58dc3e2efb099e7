package bloomvault

import (
	"hash/fnv"

	"github.com/spaolacci/murmur3"
)

// hashSeed is the fixed Murmur3 seed used throughout bloomvault. Hash
// stability is a format invariant (see package docs): persisted chunks
// encode bit positions derived from this exact seed and hash pair, so it
// must never change.
const hashSeed = 0

// bitIndices computes the k bit positions double hashing assigns to key
// within a bit vector of size m, using the scheme:
//
//	h1 = Murmur3_x64_128(key, seed=0).low64
//	h2 = FNV-1a-64(key)
//	index_i = (h1 + i*h2) mod m, for i in [0, k)
//
// The caller is responsible for having validated m >= k at construction
// time (see ComputeParams); bitIndices itself does not re-check this, it
// only requires m > 0 to take a modulus.
func bitIndices(key []byte, k, m uint64) ([]uint64, error) {
	if m == 0 {
		return nil, ErrHash
	}
	h1, _ := murmur3.Sum128WithSeed(key, hashSeed)
	h2 := fnv1a64(key)

	indices := make([]uint64, k)
	for i := uint64(0); i < k; i++ {
		indices[i] = (h1 + i*h2) % m
	}
	return indices, nil
}

// fnv1a64 computes the 64-bit FNV-1a hash of key using the standard
// library's hash/fnv implementation, the second of the two hash functions
// the double-hashing kernel composes.
func fnv1a64(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key) //nolint:errcheck // hash.Hash.Write never errors
	return h.Sum64()
}
