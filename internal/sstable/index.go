// Package sstable implements the table index reader: a
// binary-searchable per-table index mapping max-key to (offset, length),
// plus a minimal data-block writer/reader thin enough to exercise it.
// Grounded bit-exact on ChiangYintso/KVLite's src/sstable/index_block.rs
// (IndexBlock/SSTableIndex) for the record layout and lookup semantics.
package sstable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// IndexEntry is one index record: block offset, block length, and the
// block's maximum key.
type IndexEntry struct {
	Offset uint32
	Length uint32
	MaxKey []byte
}

// ErrCorruptIndex is returned when an index block cannot be parsed.
var ErrCorruptIndex = errors.New("sstable: corrupt index block")

// Index is the loaded, binary-searchable form of a table's index block.
type Index struct {
	entries []IndexEntry
}

// NewIndex builds an Index directly from already-decoded entries, in the
// order they should be searched (ascending by MaxKey).
func NewIndex(entries []IndexEntry) *Index {
	return &Index{entries: entries}
}

// EncodeEntry appends one index record to buf in the wire format:
// offset u32 BE | length u32 BE | key_len u32 BE | key bytes.
func EncodeEntry(buf []byte, e IndexEntry) []byte {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], e.Offset)
	binary.BigEndian.PutUint32(hdr[4:8], e.Length)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(e.MaxKey)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, e.MaxKey...)
	return buf
}

// LoadIndex parses a raw index block of the given byte length, iterating
// records until the cumulative bytes consumed equals indexBlockLength.
func LoadIndex(raw []byte, indexBlockLength int) (*Index, error) {
	var entries []IndexEntry
	consumed := 0
	for consumed < indexBlockLength {
		if consumed+12 > len(raw) {
			return nil, ErrCorruptIndex
		}
		offset := binary.BigEndian.Uint32(raw[consumed : consumed+4])
		length := binary.BigEndian.Uint32(raw[consumed+4 : consumed+8])
		keyLen := binary.BigEndian.Uint32(raw[consumed+8 : consumed+12])
		keyStart := consumed + 12
		keyEnd := keyStart + int(keyLen)
		if keyEnd > len(raw) {
			return nil, ErrCorruptIndex
		}
		maxKey := append([]byte(nil), raw[keyStart:keyEnd]...)
		entries = append(entries, IndexEntry{Offset: offset, Length: length, MaxKey: maxKey})
		consumed += 12 + int(keyLen)
	}
	if consumed != indexBlockLength {
		return nil, ErrCorruptIndex
	}
	return &Index{entries: entries}, nil
}

// Lookup binary searches for the first entry whose MaxKey is >= target:
// on an exact match or the first exceeding entry, that block may contain
// target; a search landing before the first entry means target is
// smaller than every block's max key, and by convention the first block
// is still returned.
func (idx *Index) Lookup(target []byte) (IndexEntry, bool) {
	if len(idx.entries) == 0 {
		return IndexEntry{}, false
	}
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].MaxKey, target) >= 0
	})
	if i == len(idx.entries) {
		// target exceeds every block's max key: no block can contain it.
		return IndexEntry{}, false
	}
	return idx.entries[i], true
}

// Entries returns the index's records in ascending MaxKey order.
func (idx *Index) Entries() []IndexEntry { return idx.entries }
