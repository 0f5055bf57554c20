package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/internal/mvcc"
)

// fakeEngine is a minimal Reader+Committer over an in-memory versioned log,
// just enough to exercise the snapshot-isolation contract
// and the "test_transaction" scenario from write_committed.rs.
type fakeEngine struct {
	mu      sync.Mutex
	entries []VersionedEntry
}

func (f *fakeEngine) Commit(entries []VersionedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeEngine) GetAtSeq(uk string, seq mvcc.Seq) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *VersionedEntry
	for i := range f.entries {
		e := &f.entries[i]
		if e.UK != uk || e.Seq > seq {
			continue
		}
		if best == nil || e.Seq > best.Seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Value, true
}

func (f *fakeEngine) RangeGetAtSeq(start, end string, seq mvcc.Seq, out func(uk string, v []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := map[string]VersionedEntry{}
	for _, e := range f.entries {
		if e.UK < start || e.UK > end || e.Seq > seq {
			continue
		}
		cur, ok := best[e.UK]
		if !ok || e.Seq > cur.Seq {
			best[e.UK] = e
		}
	}
	for uk, e := range best {
		out(uk, e.Value)
	}
}

func newTestManager() (*Manager, *fakeEngine) {
	eng := &fakeEngine{}
	mgr := NewManager(mvcc.NewSequencer(), eng, eng)
	return mgr, eng
}

func TestDirectSetThenGet(t *testing.T) {
	mgr, eng := newTestManager()
	require.NoError(t, mgr.Set("k", []byte("v1")))
	v, ok := eng.GetAtSeq("k", mvcc.MaxSeq)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestWriteBatchNotVisibleUntilCommit(t *testing.T) {
	mgr, eng := newTestManager()
	batch := mgr.StartTransaction()
	batch.Set("k", []byte("buffered"))

	_, ok := eng.GetAtSeq("k", mvcc.MaxSeq)
	assert.False(t, ok, "uncommitted batch writes must not reach the engine")

	require.NoError(t, batch.Commit())
	v, ok := eng.GetAtSeq("k", mvcc.MaxSeq)
	require.True(t, ok)
	assert.Equal(t, []byte("buffered"), v)
}

func TestWriteBatchGetSeesOwnBufferedWrites(t *testing.T) {
	mgr, _ := newTestManager()
	require.NoError(t, mgr.Set("k", []byte("committed")))

	batch := mgr.StartTransaction()
	batch.Set("k", []byte("pending"))
	v, ok := batch.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("pending"), v, "batch reads must see its own uncommitted writes first")
}

func TestRollbackDiscardsBufferedWrites(t *testing.T) {
	mgr, eng := newTestManager()
	batch := mgr.StartTransaction()
	batch.Set("k", []byte("v"))
	batch.Rollback()

	require.NoError(t, batch.Commit()) // no-op after rollback
	_, ok := eng.GetAtSeq("k", mvcc.MaxSeq)
	assert.False(t, ok)
}

// TestSnapshotIsolation exercises: a snapshot taken
// before a later write batch commits must not observe that batch's writes,
// while a fresh read after the snapshot is released does.
func TestSnapshotIsolation(t *testing.T) {
	mgr, _ := newTestManager()
	require.NoError(t, mgr.Set("2", []byte("3")))

	snap := mgr.Snapshot()

	batch := mgr.StartTransaction()
	batch.Set("10", []byte("1000"))
	require.NoError(t, batch.Commit())

	_, ok := snap.Get("10")
	assert.False(t, ok, "snapshot predates the batch's commit and must not see it")

	snap.Release()

	v, ok := mgr.Reader.GetAtSeq("10", mvcc.MaxSeq)
	require.True(t, ok)
	assert.Equal(t, []byte("1000"), v)
}

func TestNumAcquiredTracksOutstandingReadersAndBatches(t *testing.T) {
	mgr, _ := newTestManager()
	assert.EqualValues(t, 0, mgr.NumAcquired())

	snap := mgr.Snapshot()
	assert.EqualValues(t, 1, mgr.NumAcquired())

	batch := mgr.StartTransaction()
	assert.EqualValues(t, 2, mgr.NumAcquired())

	require.NoError(t, batch.Commit())
	assert.EqualValues(t, 1, mgr.NumAcquired())

	snap.Release()
	assert.EqualValues(t, 0, mgr.NumAcquired())
}

func TestMaybeFreezeFiresOnlyWhenNoReadersOutstanding(t *testing.T) {
	mgr, _ := newTestManager()
	fired := 0
	mgr.MaybeFreeze = func() { fired++ }

	snap := mgr.Snapshot()
	require.NoError(t, mgr.Set("k", []byte("v")))
	assert.Equal(t, 0, fired, "a snapshot is outstanding; freeze must be deferred")

	snap.Release()
	assert.Equal(t, 1, fired, "releasing the last reader must trigger the deferred check")
}
