// Package skiplist implements a concurrent ordered map: a probabilistic
// multi-level linked structure with one writer and many concurrent
// lock-free readers. Grounded directly on ChiangYintso/KVLite's
// src/collections/skip_list/mrsw_skipmap.rs.
//
// Two distinct exported types are provided: Multimap allows duplicate
// keys (used to demonstrate and test the underlying mechanism the
// versioned key space relies on), Map enforces key uniqueness by
// replacing the value in place (the variant used for the memtable and
// for write-batch buffers).
package skiplist

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// DefaultMaxLevel bounds the height of any node when a caller does not pick
// its own. 12 is within the 8-20 range the design allows.
const DefaultMaxLevel = 12

type node[K any, V any] struct {
	key   K
	value atomic.Pointer[V]
	level int
	next  []atomic.Pointer[node[K, V]]
}

func newNode[K any, V any](key K, value V, level int) *node[K, V] {
	n := &node[K, V]{key: key, level: level, next: make([]atomic.Pointer[node[K, V]], level+1)}
	n.value.Store(&value)
	return n
}

func (n *node[K, V]) getNext(level int) *node[K, V] {
	return n.next[level].Load()
}

func (n *node[K, V]) setNext(level int, v *node[K, V]) {
	n.next[level].Store(v)
}

// base holds the shared mechanics between Multimap and Map. It is not
// exported: callers only ever see Multimap or Map.
type base[K any, V any] struct {
	less      func(a, b K) bool
	head      *node[K, V]
	tail      atomic.Pointer[node[K, V]]
	curMaxLvl atomic.Int32
	length    atomic.Int64
	rnd       *rand.Rand
	maxLevel  int
}

// instanceSeedCounter distinguishes instances created within the same
// nanosecond, so every base gets its own level-selection sequence even
// under a burst of concurrent NewMap/NewMultimap calls.
var instanceSeedCounter atomic.Int64

func newInstanceSeed() int64 {
	return time.Now().UnixNano() + instanceSeedCounter.Add(1)
}

func newBase[K any, V any](less func(a, b K) bool, maxLevel int) *base[K, V] {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	var zeroK K
	var zeroV V
	return &base[K, V]{
		less:     less,
		head:     newNode[K, V](zeroK, zeroV, maxLevel),
		rnd:      rand.New(rand.NewSource(newInstanceSeed())),
		maxLevel: maxLevel,
	}
}

func (b *base[K, V]) equal(a, c K) bool {
	return !b.less(a, c) && !b.less(c, a)
}

// Len returns the number of nodes currently in the list.
func (b *base[K, V]) Len() int { return int(b.length.Load()) }

// IsEmpty reports whether the list has no nodes.
func (b *base[K, V]) IsEmpty() bool { return b.Len() == 0 }

// findFirstGE returns the first node whose key is >= key, or nil. When
// prevs is non-nil it must have length b.maxLevel+1 and is filled, at each
// level L, with the last node whose key < target while descending from the
// current maximum level.
func (b *base[K, V]) findFirstGE(key K, prevs []*node[K, V]) *node[K, V] {
	level := int(b.curMaxLvl.Load())
	cur := b.head
	for {
		next := cur.getNext(level)
		if next != nil && b.less(next.key, key) {
			cur = next
			continue
		}
		if prevs != nil {
			prevs[level] = cur
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (b *base[K, V]) randomLevel() int {
	level := 0
	for b.rnd.Int31n(2) == 1 && level < b.maxLevel {
		level++
	}
	return level
}

// insert inserts key/value. If unique is true and a node with an equal key
// exists at level 0, its value is replaced in place and no new node is
// allocated. Returns whether the key already existed.
func (b *base[K, V]) insert(key K, value V, unique bool) bool {
	prevs := make([]*node[K, V], b.maxLevel+1)
	for i := range prevs {
		prevs[i] = b.head
	}
	next := b.findFirstGE(key, prevs)
	existed := next != nil && b.equal(next.key, key)

	if unique && existed {
		value := value
		next.value.Store(&value)
		return true
	}

	level := b.randomLevel()
	if int32(level) > b.curMaxLvl.Load() {
		b.curMaxLvl.Store(int32(level))
	}

	n := newNode[K, V](key, value, level)
	if prevs[0].getNext(0) == nil {
		b.tail.Store(n)
	}
	for i := 0; i <= level; i++ {
		// Publish the new node's own forward pointer before splicing it
		// into the predecessor's chain, so a concurrent reader that
		// observes the new node at level i also observes its outgoing
		// level-i pointer.
		n.setNext(i, prevs[i].getNext(i))
		prevs[i].setNext(i, n)
	}
	b.length.Add(1)
	return existed
}

// removeAll unlinks every node with an equal key (multimap semantics under
// the hood even for the unique Map, where at most one node ever matches).
// Returns whether any node was removed. Callers must ensure no concurrent
// reader can observe a removed node's memory after this call; this
// structure has only one writer at a time, so that's the caller's job.
func (b *base[K, V]) removeAll(key K) bool {
	prevs := make([]*node[K, V], b.maxLevel+1)
	for i := range prevs {
		prevs[i] = b.head
	}
	n := b.findFirstGE(key, prevs)
	has := n != nil && b.equal(n.key, key)
	if !has {
		return false
	}
	for n != nil && b.equal(n.key, key) {
		next := n.getNext(0)
		for i := 0; i <= n.level; i++ {
			prevs[i].setNext(i, n.getNext(i))
		}
		b.length.Add(-1)
		if next == nil {
			b.tail.Store(prevs[0])
		}
		n = next
	}
	return true
}

func (b *base[K, V]) firstNode() *node[K, V] {
	if b.IsEmpty() {
		return nil
	}
	return b.head.getNext(0)
}

func (b *base[K, V]) lastNode() *node[K, V] {
	if b.IsEmpty() {
		return nil
	}
	return b.tail.Load()
}

// Iter is a lazy, forward-only iterator over a skip list's level-0 chain.
type Iter[K any, V any] struct {
	cur *node[K, V]
}

// Next advances the iterator and reports whether a value was produced.
func (it *Iter[K, V]) Next() (K, V, bool) {
	if it.cur == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	k := it.cur.key
	v := *it.cur.value.Load()
	it.cur = it.cur.getNext(0)
	return k, v, true
}

func (b *base[K, V]) iter() Iter[K, V] {
	return Iter[K, V]{cur: b.firstNode()}
}

// Multimap is the duplicate-key variant of the concurrent ordered map.
type Multimap[K any, V any] struct {
	*base[K, V]
}

// NewMultimap builds an empty Multimap ordered by less, with DefaultMaxLevel.
func NewMultimap[K any, V any](less func(a, b K) bool) *Multimap[K, V] {
	return &Multimap[K, V]{base: newBase[K, V](less, DefaultMaxLevel)}
}

// NewMultimapWithMaxLevel builds an empty Multimap capped at maxLevel
// (maxLevel <= 0 falls back to DefaultMaxLevel).
func NewMultimapWithMaxLevel[K any, V any](less func(a, b K) bool, maxLevel int) *Multimap[K, V] {
	return &Multimap[K, V]{base: newBase[K, V](less, maxLevel)}
}

// Insert always allocates a new node, even when key already exists.
// Returns whether key already existed.
func (m *Multimap[K, V]) Insert(key K, value V) bool { return m.base.insert(key, value, false) }

// Remove removes every node with an equal key. Returns whether any existed.
func (m *Multimap[K, V]) Remove(key K) bool { return m.base.removeAll(key) }

// FindFirstGE returns the first node's key/value whose key is >= key.
func (m *Multimap[K, V]) FindFirstGE(key K) (K, V, bool) {
	n := m.base.findFirstGE(key, nil)
	if n == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return n.key, *n.value.Load(), true
}

// FirstKeyValue returns the smallest key/value pair, if any.
func (m *Multimap[K, V]) FirstKeyValue() (K, V, bool) {
	n := m.base.firstNode()
	if n == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return n.key, *n.value.Load(), true
}

// LastKeyValue returns the largest key/value pair, if any.
func (m *Multimap[K, V]) LastKeyValue() (K, V, bool) {
	n := m.base.lastNode()
	if n == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return n.key, *n.value.Load(), true
}

// Iter returns a forward iterator over ascending keys.
func (m *Multimap[K, V]) Iter() Iter[K, V] { return m.base.iter() }

// Map is the unique-key variant: Insert replaces the value of an existing
// key in place instead of allocating a duplicate node. It is the basis of
// the memtable and of write-batch buffers.
type Map[K any, V any] struct {
	*base[K, V]
}

// NewMap builds an empty Map ordered by less, with DefaultMaxLevel.
func NewMap[K any, V any](less func(a, b K) bool) *Map[K, V] {
	return &Map[K, V]{base: newBase[K, V](less, DefaultMaxLevel)}
}

// NewMapWithMaxLevel builds an empty Map capped at maxLevel (maxLevel <= 0
// falls back to DefaultMaxLevel). Used by the engine's active/immutable
// memtables so config.Engine.SkipListMaxLevel has an effect.
func NewMapWithMaxLevel[K any, V any](less func(a, b K) bool, maxLevel int) *Map[K, V] {
	return &Map[K, V]{base: newBase[K, V](less, maxLevel)}
}

// Insert sets key to value, replacing any existing value. Returns whether
// key already existed.
func (m *Map[K, V]) Insert(key K, value V) bool { return m.base.insert(key, value, true) }

// Get returns the value stored for key, if present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	n := m.base.findFirstGE(key, nil)
	if n == nil || !m.base.equal(n.key, key) {
		var zv V
		return zv, false
	}
	return *n.value.Load(), true
}

// Remove deletes key. Returns whether it existed.
func (m *Map[K, V]) Remove(key K) bool { return m.base.removeAll(key) }

// FirstKeyValue returns the smallest key/value pair, if any.
func (m *Map[K, V]) FirstKeyValue() (K, V, bool) {
	n := m.base.firstNode()
	if n == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return n.key, *n.value.Load(), true
}

// LastKeyValue returns the largest key/value pair, if any.
func (m *Map[K, V]) LastKeyValue() (K, V, bool) {
	n := m.base.lastNode()
	if n == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return n.key, *n.value.Load(), true
}

// Iter returns a forward iterator over ascending keys.
func (m *Map[K, V]) Iter() Iter[K, V] { return m.base.iter() }

// RangeGet appends every (key, value) with start <= key <= end, in
// ascending order, to out. Both bounds are inclusive.
func (m *Map[K, V]) RangeGet(start, end K, out func(k K, v V)) {
	n := m.base.findFirstGE(start, nil)
	for n != nil && !m.less(end, n.key) {
		out(n.key, *n.value.Load())
		n = n.getNext(0)
	}
}

// Merge unions batch into m in place; values from batch win on key
// equality.
func (m *Map[K, V]) Merge(batch *Map[K, V]) {
	it := batch.Iter()
	for {
		k, v, ok := it.Next()
		if !ok {
			return
		}
		m.Insert(k, v)
	}
}
