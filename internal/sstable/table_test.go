package sstable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, seq uint64, kvs map[string]string) *Table {
	w := NewWriter(seq)
	keys := []string{}
	for k := range kvs {
		keys = append(keys, k)
	}
	// deterministic insertion order for reproducible offsets in assertions
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		require.NoError(t, w.Add(k, []byte(kvs[k])))
	}
	tbl, err := w.Finish()
	require.NoError(t, err)
	return tbl
}

func TestWriterFinishAndGet(t *testing.T) {
	tbl := buildTable(t, 1, map[string]string{"a": "1", "b": "2", "c": "3"})
	assert.Equal(t, 3, tbl.Len())

	v, ok := tbl.Get("b")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	_, ok = tbl.Get("missing")
	assert.False(t, ok)
}

func TestTableIterAscending(t *testing.T) {
	tbl := buildTable(t, 1, map[string]string{"b": "2", "a": "1", "c": "3"})
	next := tbl.Iter()
	var keys []string
	for {
		e, ok := next()
		if !ok {
			break
		}
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestOpenTableRoundTrip(t *testing.T) {
	tbl := buildTable(t, 7, map[string]string{"x": "y"})
	reopened, err := OpenTable(tbl.CreationSeq, tbl.data)
	require.NoError(t, err)
	v, ok := reopened.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("y"), v)
	assert.Equal(t, uint64(7), reopened.CreationSeq)
}

func TestTableTombstoneRoundTrip(t *testing.T) {
	tbl := buildTable(t, 1, map[string]string{"deleted": ""})
	v, ok := tbl.Get("deleted")
	require.True(t, ok)
	assert.Empty(t, v)
}
