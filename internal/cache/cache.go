// Package cache implements a sharded, reference-counted LRU cache used to
// cache on-disk table entries across goroutines, grounded on
// ChiangYintso/KVLite's src/cache.rs (ShardLRUCache / LRUCache / LRUEntry).
//
// github.com/hashicorp/golang-lru is not used here: its Get/Add API has no
// notion of a handle that stays valid, independent of the cache's own
// eviction, until the caller releases it — a handle obtained before an
// entry is evicted must still read correctly afterward. See DESIGN.md.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"lsmkv/internal/xhash"
)

// entry is one resident or outstanding-handle cache entry.
type entry[K comparable, V any] struct {
	key      K
	value    V
	hash     uint32
	refCount atomic.Int64
}

// Handle is a scoped reference to a cache entry: it holds the entry plus an
// extra refcount until Release is called. Releasing a zero-value Handle
// (one that came from a miss) is a documented no-op.
type Handle[K comparable, V any] struct {
	e     *entry[K, V]
	shard *shard[K, V]
}

// Value returns the handle's key/value pair. Calling it on a miss handle
// panics; callers must check Ok first.
func (h Handle[K, V]) Value() (K, V) {
	return h.e.key, h.e.value
}

// Ok reports whether the handle refers to a live entry (false on a miss).
func (h Handle[K, V]) Ok() bool { return h.e != nil }

// Release drops the handle's extra reference. Releasing a miss handle is a
// no-op, satisfying the external handle contract.
func (h Handle[K, V]) Release() {
	if h.e == nil {
		return
	}
	h.shard.release(h.e)
}

// shard is one of numShards independent LRU instances: a mutex-guarded
// recency list plus a chained hash table (buckets of recency-list
// elements, selected by xhash.Bucket) standing in for the index.
type shard[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	numBuckets uint32
	recency    *list.List // front = most recently used
	buckets    [][]*list.Element
	count      int
}

func newShard[K comparable, V any](capacity, numBuckets int) *shard[K, V] {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	return &shard[K, V]{
		capacity:   capacity,
		numBuckets: uint32(numBuckets),
		recency:    list.New(),
		buckets:    make([][]*list.Element, numBuckets),
	}
}

func (s *shard[K, V]) findLocked(key K, hash uint32) (int, *list.Element) {
	b := int(xhash.Bucket(hash, s.numBuckets))
	for _, elem := range s.buckets[b] {
		if elem.Value.(*entry[K, V]).key == key {
			return b, elem
		}
	}
	return b, nil
}

func (s *shard[K, V]) insertNoExists(key K, value V, hash uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existing := s.findLocked(key, hash); existing != nil {
		return
	}
	if s.count == s.capacity {
		back := s.recency.Back()
		old := back.Value.(*entry[K, V])
		s.recency.Remove(back)
		s.unlinkFromBucketLocked(old.hash, back)
		s.count--
		s.releaseLocked(old)
	}

	e := &entry[K, V]{key: key, value: value, hash: hash}
	e.refCount.Store(1)
	elem := s.recency.PushFront(e)
	b := int(xhash.Bucket(hash, s.numBuckets))
	s.buckets[b] = append(s.buckets[b], elem)
	s.count++
}

func (s *shard[K, V]) lookUp(key K, hash uint32) Handle[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, elem := s.findLocked(key, hash)
	if elem == nil {
		return Handle[K, V]{}
	}
	s.recency.MoveToFront(elem)
	e := elem.Value.(*entry[K, V])
	e.refCount.Add(1)
	return Handle[K, V]{e: e, shard: s}
}

func (s *shard[K, V]) erase(key K, hash uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, elem := s.findLocked(key, hash)
	if elem == nil {
		return
	}
	e := elem.Value.(*entry[K, V])
	s.recency.Remove(elem)
	s.unlinkFromBucketLocked(hash, elem)
	s.count--
	s.releaseLocked(e)
}

// unlinkFromBucketLocked removes elem from the bucket it was filed under.
// Called with s.mu held.
func (s *shard[K, V]) unlinkFromBucketLocked(hash uint32, elem *list.Element) {
	b := int(xhash.Bucket(hash, s.numBuckets))
	bucket := s.buckets[b]
	for i, e := range bucket {
		if e == elem {
			s.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// releaseLocked decrements refCount by one for an entry already unlinked
// from recency+index; it may be called with or without the shard mutex
// held, since refCount is atomic, but the initial unlinking above always
// happens under the lock.
func (s *shard[K, V]) releaseLocked(e *entry[K, V]) {
	e.refCount.Add(-1)
}

// release is called from Handle.Release, outside of any structural
// operation on the shard; it only needs to touch the atomic refcount.
func (s *shard[K, V]) release(e *entry[K, V]) {
	e.refCount.Add(-1)
}

// ShardedCache is the full sharded cache: numShards independent shards
// selected by the top bits of a caller-supplied hash.
type ShardedCache[K comparable, V any] struct {
	numShards uint32
	shards    []*shard[K, V]
}

// New builds an empty sharded cache with numShards shards, each holding up
// to capacity entries indexed across numBuckets hash-chain buckets.
func New[K comparable, V any](numShards, capacity, numBuckets int) *ShardedCache[K, V] {
	if numShards <= 0 {
		numShards = 1
	}
	c := &ShardedCache[K, V]{
		numShards: uint32(numShards),
		shards:    make([]*shard[K, V], numShards),
	}
	for i := range c.shards {
		c.shards[i] = newShard[K, V](capacity, numBuckets)
	}
	return c
}

// InsertNoExists inserts key/value if key is not already present; it never
// refreshes or updates an existing entry, and entries never expire on
// their own — eviction only happens on capacity pressure.
func (c *ShardedCache[K, V]) InsertNoExists(key K, value V, hash uint32) {
	c.shards[xhash.Shard(hash, c.numShards)].insertNoExists(key, value, hash)
}

// LookUp returns a handle to key, moving it to the front of its shard's
// recency list on a hit. The handle is a miss (Ok()==false) if key is
// absent.
func (c *ShardedCache[K, V]) LookUp(key K, hash uint32) Handle[K, V] {
	return c.shards[xhash.Shard(hash, c.numShards)].lookUp(key, hash)
}

// Erase removes key if present; outstanding handles keep the entry alive
// until released.
func (c *ShardedCache[K, V]) Erase(key K, hash uint32) {
	c.shards[xhash.Shard(hash, c.numShards)].erase(key, hash)
}

// Len returns the total number of resident entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.count
		s.mu.Unlock()
	}
	return total
}
