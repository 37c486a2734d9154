package sstable

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a probabilistic membership filter used to skip the
// sparse-index binary search for keys that are definitely absent,
// adapted from the teacher's pkg/lsm bloom filter. It is built
// in-memory only and never persisted, the same way the sparse index
// itself is reconstructed on load rather than stored on disk.
type bloomFilter struct {
	bits      []bool
	size      int
	hashCount int
}

func newBloomFilter(expectedItems int, falsePositiveRate float64) *bloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	size := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	hashCount := int(math.Ceil((float64(size) / float64(expectedItems)) * math.Ln2))
	if size < 1 {
		size = 1
	}
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 32 {
		hashCount = 32
	}
	return &bloomFilter{bits: make([]bool, size), size: size, hashCount: hashCount}
}

func (bf *bloomFilter) add(key []byte) {
	for i := 0; i < bf.hashCount; i++ {
		bf.bits[bf.hash(key, i)] = true
	}
}

func (bf *bloomFilter) mayContain(key []byte) bool {
	for i := 0; i < bf.hashCount; i++ {
		if !bf.bits[bf.hash(key, i)] {
			return false
		}
	}
	return true
}

func (bf *bloomFilter) hash(key []byte, i int) int {
	h1 := fnv.New64a()
	_, _ = h1.Write(key)
	hash1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write(key)
	_, _ = h2.Write([]byte{0xFF})
	hash2 := h2.Sum64()
	if hash2%2 == 0 {
		hash2++
	}

	return int((hash1 + uint64(i)*hash2) % uint64(bf.size))
}
