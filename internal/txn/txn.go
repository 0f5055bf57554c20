// Package txn implements the MVCC transaction layer: snapshots, buffered
// write batches, the freeze interlock, and the direct (non-transactional)
// set/remove path. Grounded closely on ChiangYintso/KVLite's
// src/db/transaction/write_committed.rs (SnapShot, WriteBatch,
// WriteCommittedDB), with string user keys paired with mvcc sequence
// numbers.
package txn

import (
	"sync/atomic"

	"lsmkv/internal/memtable"
	"lsmkv/internal/mvcc"
	"lsmkv/internal/record"
)

// Reader is the subset of the engine a Snapshot or WriteBatch reads
// through: a versioned-key point lookup and range scan as of a given
// sequence number. The engine satisfies this by projecting its active and
// frozen memtables plus on-disk tables through mvcc.Less ordering.
type Reader interface {
	GetAtSeq(uk string, seq mvcc.Seq) ([]byte, bool)
	RangeGetAtSeq(start, end string, seq mvcc.Seq, out func(uk string, v []byte))
}

// Committer receives a write batch's buffered entries at commit time. The
// engine appends them to the WAL (in buffer order, under the WAL lock)
// and merges them into the active memtable; the Manager, not the
// Committer, then evaluates the freeze interlock via MaybeFreeze.
type Committer interface {
	Commit(entries []VersionedEntry) error
}

// VersionedEntry is one buffered write, already stamped with its
// transaction's sequence number.
type VersionedEntry struct {
	UK    string
	Seq   mvcc.Seq
	Value []byte
}

// Manager owns the process-wide sequencer and the freeze interlock
// refcount of outstanding snapshots/batches, and is the factory for
// snapshots and write batches. The engine embeds one Manager.
type Manager struct {
	Seq         *mvcc.Sequencer
	Reader      Reader
	Committer   Committer
	numAcquired atomic.Int64
	// MaybeFreeze is invoked after every commit or direct write, once the
	// acquired-reader/batch count has reached zero; it should check the
	// freeze threshold and, if exceeded, rotate the memtable and spawn
	// a flush. It is supplied by the engine, which alone knows the current
	// memtable and flush pool.
	MaybeFreeze func()
	// BufferKind selects the backing structure new write-batch buffers are
	// built with; it defaults to memtable.SkipListBacked (the zero value).
	BufferKind memtable.Kind
}

// NewManager builds a Manager around an already-open sequencer.
func NewManager(seq *mvcc.Sequencer, reader Reader, committer Committer) *Manager {
	return &Manager{Seq: seq, Reader: reader, Committer: committer}
}

// NumAcquired reports the current count of outstanding snapshots and write
// batches, exposed for tests and diagnostics.
func (m *Manager) NumAcquired() int64 { return m.numAcquired.Load() }

func (m *Manager) release() {
	if m.numAcquired.Add(-1) == 0 && m.MaybeFreeze != nil {
		m.MaybeFreeze()
	}
}

// Snapshot is a read-only view pinned to the sequence number at which it
// was acquired.
type Snapshot struct {
	mgr *Manager
	seq mvcc.Seq
}

// Snapshot acquires a fresh sequence number and bumps num_lsn_acquired.
// Callers must call Release when done.
func (m *Manager) Snapshot() *Snapshot {
	s := m.Seq.Next()
	m.numAcquired.Add(1)
	return &Snapshot{mgr: m, seq: s}
}

// Get returns the value visible to this snapshot for uk, or a miss if the
// newest version at or below the snapshot's sequence is a tombstone or
// absent.
func (s *Snapshot) Get(uk string) ([]byte, bool) {
	v, ok := s.mgr.Reader.GetAtSeq(uk, s.seq)
	if !ok || record.IsTombstone(v) {
		return nil, false
	}
	return v, true
}

// RangeGet scans [start, end] as visible to this snapshot.
func (s *Snapshot) RangeGet(start, end string, out func(uk string, v []byte)) {
	s.mgr.Reader.RangeGetAtSeq(start, end, s.seq, func(uk string, v []byte) {
		if !record.IsTombstone(v) {
			out(uk, v)
		}
	})
}

// Release decrements num_lsn_acquired; it is the Go rendition of the
// Rust SnapShot's Drop impl, made explicit since Go has no destructors.
func (s *Snapshot) Release() { s.mgr.release() }

// WriteBatch buffers Set/Remove calls against a private table until
// Commit or Rollback. Its zero value is not usable; build one via
// Manager.StartTransaction.
type WriteBatch struct {
	mgr     *Manager
	seq     mvcc.Seq
	buffer  memtable.Table
	settled bool
}

// StartTransaction acquires a fresh sequence number, bumps
// num_lsn_acquired, and returns an empty write-batch buffer.
func (m *Manager) StartTransaction() *WriteBatch {
	seq := m.Seq.Next()
	m.numAcquired.Add(1)
	return &WriteBatch{mgr: m, seq: seq, buffer: memtable.NewBuffer(m.BufferKind)}
}

// Get consults the batch's own buffer first, then falls through to the
// engine as of this transaction's sequence number.
func (w *WriteBatch) Get(uk string) ([]byte, bool) {
	if v, ok := w.buffer.Get(uk); ok {
		if record.IsTombstone(v) {
			return nil, false
		}
		return v, true
	}
	v, ok := w.mgr.Reader.GetAtSeq(uk, w.seq)
	if !ok || record.IsTombstone(v) {
		return nil, false
	}
	return v, true
}

// RangeGet merges the batch's own buffered writes over the engine's view
// as of this transaction's sequence number.
func (w *WriteBatch) RangeGet(start, end string, out func(uk string, v []byte)) {
	seen := map[string]bool{}
	w.buffer.RangeGet(start, end, func(uk string, v []byte) {
		seen[uk] = true
		if !record.IsTombstone(v) {
			out(uk, v)
		}
	})
	w.mgr.Reader.RangeGetAtSeq(start, end, w.seq, func(uk string, v []byte) {
		if seen[uk] || record.IsTombstone(v) {
			return
		}
		out(uk, v)
	})
}

// Set buffers a write; it is not visible outside this batch until commit.
func (w *WriteBatch) Set(uk string, value []byte) { w.buffer.Set(uk, value) }

// Remove buffers a tombstone write.
func (w *WriteBatch) Remove(uk string) { w.buffer.Remove(uk) }

// Rollback discards the batch's buffered writes without committing them.
func (w *WriteBatch) Rollback() {
	w.buffer = memtable.NewBuffer(w.mgr.BufferKind)
	w.settle()
}

// Commit appends the buffered writes to the WAL and merges them into the
// active memtable, then settles the batch. Calling Commit more than
// once, or after Rollback, is a no-op.
func (w *WriteBatch) Commit() error {
	if w.settled {
		return nil
	}
	if w.buffer.Len() > 0 {
		var entries []VersionedEntry
		next := w.buffer.Iter()
		for {
			uk, v, ok := next()
			if !ok {
				break
			}
			entries = append(entries, VersionedEntry{UK: uk, Seq: w.seq, Value: v})
		}
		if err := w.mgr.Committer.Commit(entries); err != nil {
			return err
		}
	}
	w.settle()
	return nil
}

func (w *WriteBatch) settle() {
	if w.settled {
		return
	}
	w.settled = true
	w.mgr.release()
}

// Set is the direct (non-transactional) write path: it bypasses the
// buffer entirely, allocating its own sequence number and committing
// immediately.
func (m *Manager) Set(uk string, value []byte) error {
	seq := m.Seq.Next()
	err := m.Committer.Commit([]VersionedEntry{{UK: uk, Seq: seq, Value: value}})
	if m.numAcquired.Load() == 0 && m.MaybeFreeze != nil {
		m.MaybeFreeze()
	}
	return err
}

// Remove is the direct tombstone write.
func (m *Manager) Remove(uk string) error {
	return m.Set(uk, record.Tombstone)
}
