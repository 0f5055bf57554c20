package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionedKeyOrderSameUKDescendingSeq(t *testing.T) {
	a := VersionedKey{UK: "k", Seq: 10}
	b := VersionedKey{UK: "k", Seq: 5}
	assert.True(t, Less(a, b), "higher seq for the same UK sorts first")
	assert.False(t, Less(b, a))
}

func TestVersionedKeyOrderUKAscending(t *testing.T) {
	a := VersionedKey{UK: "a", Seq: 1}
	b := VersionedKey{UK: "b", Seq: 100}
	assert.True(t, Less(a, b))
}

func TestSequencerMonotoneAndStartsAtOne(t *testing.T) {
	s := NewSequencer()
	first := s.Next()
	assert.Equal(t, Seq(1), first)
	second := s.Next()
	assert.Equal(t, Seq(2), second)
}

func TestSequencerNeverReusesAfterRestore(t *testing.T) {
	s := NewSequencer()
	s.Next()
	s.Next()
	s.Restore(100)
	next := s.Next()
	assert.Greater(t, next, Seq(100))
}

func TestSequencerRestoreIsNoOpIfLower(t *testing.T) {
	s := NewSequencer()
	for i := 0; i < 5; i++ {
		s.Next()
	}
	before := s.Next()
	s.Restore(1)
	after := s.Next()
	assert.Greater(t, after, before)
}
