// Package memtable implements the private, single-transaction write-batch
// buffer: an ordered container with length, iteration, bulk merge, and
// first/last key queries, built fresh for each WriteBatch and thrown away
// at commit/rollback. Grounded on ChiangYintso/KVLite's memory module
// (MemTable trait, SkipMapMemTable, BTreeMemTable); the engine's own
// long-lived active/immutable memtables are versioned-key skip lists kept
// directly in internal/engine instead, since they need mvcc.VersionedKey
// ordering this package's plain string-keyed Table does not provide.
package memtable

import (
	"sync"

	"lsmkv/internal/record"
	"lsmkv/internal/skiplist"
)

// Table is the ordered key-value container contract shared by both
// reference implementations.
type Table interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Remove(key string)
	RangeGet(start, end string, out func(key string, value []byte))
	Len() int
	FirstKey() (string, bool)
	LastKey() (string, bool)
	Iter() func() (string, []byte, bool)
	Merge(batch Table)
}

// skiplistTable implements Table over the concurrent skip list's
// unique-key Map, giving single-writer/concurrent-reader semantics on
// its own, before any outer lock is applied.
type skiplistTable struct {
	inner *skiplist.Map[string, []byte]
}

func newSkiplistTable() *skiplistTable {
	return &skiplistTable{inner: skiplist.NewMap[string, []byte](less)}
}

func less(a, b string) bool { return a < b }

func (t *skiplistTable) Get(key string) ([]byte, bool) { return t.inner.Get(key) }

func (t *skiplistTable) Set(key string, value []byte) { t.inner.Insert(key, value) }

func (t *skiplistTable) Remove(key string) { t.inner.Insert(key, record.Tombstone) }

func (t *skiplistTable) RangeGet(start, end string, out func(key string, value []byte)) {
	t.inner.RangeGet(start, end, out)
}

func (t *skiplistTable) Len() int { return t.inner.Len() }

func (t *skiplistTable) FirstKey() (string, bool) {
	k, _, ok := t.inner.FirstKeyValue()
	return k, ok
}

func (t *skiplistTable) LastKey() (string, bool) {
	k, _, ok := t.inner.LastKeyValue()
	return k, ok
}

func (t *skiplistTable) Iter() func() (string, []byte, bool) {
	it := t.inner.Iter()
	return func() (string, []byte, bool) { return it.Next() }
}

func (t *skiplistTable) Merge(batch Table) {
	other, ok := batch.(*skiplistTable)
	if !ok {
		mergeGeneric(t, batch)
		return
	}
	t.inner.Merge(other.inner)
}

func mergeGeneric(dst Table, src Table) {
	next := src.Iter()
	for {
		k, v, ok := next()
		if !ok {
			return
		}
		dst.Set(k, v)
	}
}

// btreeTable implements Table over a Go sorted-map structure guarded by its
// own read-write lock, the rendition of ChiangYintso/KVLite's BTreeMemTable
// (there a std::collections::BTreeMap behind a RwLock). Go's standard
// library has no ordered map, so this is built on the same skip list used
// by skiplistTable but with every operation additionally serialized by a
// sync.RWMutex — giving the "balanced tree under a read-write lock"
// reference variant its own concurrency profile (multiple writers may now
// safely interleave, at the cost of blocking readers during writes).
type btreeTable struct {
	mu    sync.RWMutex
	inner *skiplist.Map[string, []byte]
}

func newBtreeTable() *btreeTable {
	return &btreeTable{inner: skiplist.NewMap[string, []byte](less)}
}

func (t *btreeTable) Get(key string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inner.Get(key)
}

func (t *btreeTable) Set(key string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Insert(key, value)
}

func (t *btreeTable) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Insert(key, record.Tombstone)
}

func (t *btreeTable) RangeGet(start, end string, out func(key string, value []byte)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.inner.RangeGet(start, end, out)
}

func (t *btreeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inner.Len()
}

func (t *btreeTable) FirstKey() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, _, ok := t.inner.FirstKeyValue()
	return k, ok
}

func (t *btreeTable) LastKey() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, _, ok := t.inner.LastKeyValue()
	return k, ok
}

func (t *btreeTable) Iter() func() (string, []byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it := t.inner.Iter()
	return func() (string, []byte, bool) { return it.Next() }
}

func (t *btreeTable) Merge(batch Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := batch.Iter()
	for {
		k, v, ok := next()
		if !ok {
			return
		}
		t.inner.Insert(k, v)
	}
}

// Kind selects the backing structure for a write-batch buffer; see
// config.Engine.WriteBufferKind.
type Kind int

const (
	// SkipListBacked uses the concurrent skip list directly; the sole
	// writer must be externally serialized.
	SkipListBacked Kind = iota
	// TreeBacked wraps the ordered structure in its own read-write lock,
	// allowing multiple concurrent writers at the cost of write contention.
	TreeBacked
)

// NewBuffer builds a standalone Table with no outer lock, suitable for a
// private write-batch buffer that only one goroutine ever touches. kind
// selects the backing structure; TreeBacked is only useful here if a
// caller plans to hand the same buffer to more than one goroutine, since a
// private buffer is otherwise always single-writer.
func NewBuffer(kind Kind) Table {
	switch kind {
	case TreeBacked:
		return newBtreeTable()
	default:
		return newSkiplistTable()
	}
}

