package xhash

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum32Deterministic(t *testing.T) {
	a := Sum32([]byte("hello"), 0x1234)
	b := Sum32([]byte("hello"), 0x1234)
	assert.Equal(t, a, b)
}

func TestSum32SeedChangesHash(t *testing.T) {
	a := Sum32([]byte("hello"), 1)
	b := Sum32([]byte("hello"), 2)
	assert.NotEqual(t, a, b)
}

func TestShardBucketRange(t *testing.T) {
	const numShards = 1 << NumShardBits
	const numBuckets = 1 << NumBucketBits

	seen := map[uint32]int{}
	for i := 0; i < 4096; i++ {
		h := Sum32([]byte(strconv.Itoa(i)), 0xC0FFEE)
		s := Shard(h, numShards)
		b := Bucket(h, numBuckets)
		assert.Less(t, s, uint32(numShards))
		assert.Less(t, b, uint32(numBuckets))
		seen[s]++
	}
	// Rough uniformity check: every shard should receive a non-trivial share.
	for s := uint32(0); s < numShards; s++ {
		assert.Greater(t, seen[s], 100)
	}
}

func TestShardHandlesNonPowerOfTwoCount(t *testing.T) {
	for i := 0; i < 1000; i++ {
		h := Sum32([]byte(strconv.Itoa(i)), 0xBEEF)
		s := Shard(h, 5)
		assert.Less(t, s, uint32(5))
	}
}
