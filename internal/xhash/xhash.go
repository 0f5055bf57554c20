// Package xhash provides the deterministic 32-bit hash used to place keys
// into cache shards and hash buckets.
package xhash

import "github.com/spaolacci/murmur3"

// NumShardBits and NumBucketBits describe the default shard/bucket counts
// (as powers of two) used when nothing overrides config.Default().
const NumShardBits = 4
const NumBucketBits = 8

// Sum32 returns the Murmur3-32 hash of data seeded with seed. It is
// deterministic across processes given the same seed, which is required so
// that cache placement is reproducible in tests.
func Sum32(data []byte, seed uint32) uint32 {
	return murmur3.Sum32WithSeed(data, seed)
}

// Shard returns the shard index in [0, numShards) for hash h, taken from
// its high bits scaled into range. numShards need not be a power of two;
// when it is, this reduces to the usual top-bits shard selection.
func Shard(h uint32, numShards uint32) uint32 {
	if numShards == 0 {
		numShards = 1
	}
	return uint32((uint64(h) * uint64(numShards)) >> 32)
}

// Bucket returns the hash-chain bucket index in [0, numBuckets) for hash h,
// taken from its low bits scaled into range.
func Bucket(h uint32, numBuckets uint32) uint32 {
	if numBuckets == 0 {
		numBuckets = 1
	}
	return h % numBuckets
}
