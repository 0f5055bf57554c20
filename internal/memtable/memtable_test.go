package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSetGetRemove(t *testing.T) {
	for _, kind := range []Kind{SkipListBacked, TreeBacked} {
		buf := NewBuffer(kind)
		buf.Set("a", []byte("1"))
		v, ok := buf.Get("a")
		require.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		buf.Remove("a")
		v, ok = buf.Get("a")
		require.True(t, ok)
		assert.Empty(t, v, "remove sets an empty tombstone value, not absence")
	}
}

func TestBufferLenAndFirstLastKey(t *testing.T) {
	buf := NewBuffer(SkipListBacked)
	_, ok := buf.FirstKey()
	assert.False(t, ok)

	buf.Set("c", []byte("3"))
	buf.Set("a", []byte("1"))
	buf.Set("b", []byte("2"))
	assert.Equal(t, 3, buf.Len())

	k, _ := buf.FirstKey()
	assert.Equal(t, "a", k)
	k, _ = buf.LastKey()
	assert.Equal(t, "c", k)
}

func TestBufferIterAscending(t *testing.T) {
	buf := NewBuffer(TreeBacked)
	buf.Set("b", []byte("2"))
	buf.Set("a", []byte("1"))
	buf.Set("c", []byte("3"))

	next := buf.Iter()
	var keys []string
	for {
		k, _, ok := next()
		if !ok {
			break
		}
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestBufferRangeGetInclusive(t *testing.T) {
	buf := NewBuffer(SkipListBacked)
	for _, k := range []string{"a", "b", "c", "d"} {
		buf.Set(k, []byte(k))
	}
	var got []string
	buf.RangeGet("b", "c", func(k string, v []byte) { got = append(got, k) })
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestBufferMergeBatchWins(t *testing.T) {
	buf := NewBuffer(SkipListBacked)
	buf.Set("a", []byte("old"))
	buf.Set("b", []byte("keep"))

	other := NewBuffer(SkipListBacked)
	other.Set("a", []byte("new"))
	other.Set("c", []byte("added"))

	buf.Merge(other)

	v, _ := buf.Get("a")
	assert.Equal(t, []byte("new"), v)
	v, _ = buf.Get("b")
	assert.Equal(t, []byte("keep"), v)
	v, _ = buf.Get("c")
	assert.Equal(t, []byte("added"), v)
	assert.Equal(t, 3, buf.Len())
}

func TestBufferTreeBackedMergeGeneric(t *testing.T) {
	buf := NewBuffer(TreeBacked)
	buf.Set("a", []byte("old"))

	other := NewBuffer(SkipListBacked)
	other.Set("a", []byte("new"))
	other.Set("b", []byte("added"))

	buf.Merge(other)

	v, _ := buf.Get("a")
	assert.Equal(t, []byte("new"), v)
	v, _ = buf.Get("b")
	assert.Equal(t, []byte("added"), v)
}
