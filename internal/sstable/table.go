// Table writing/reading is intentionally thin: only a data-block encoder
// plus a footer pointing at the index block are specified, which is just
// enough of a concrete encoding to let Index and IndexEntry be exercised
// end to end by the compaction merger, grounded in the same footer shape
// KVLite's sstable/footer.rs implies (an index offset plus an index
// length) and in a length-prefixed on-disk block layout.
package sstable

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"lsmkv/internal/record"
)

// Footer is the fixed-size trailer locating a table's index block.
type Footer struct {
	IndexOffset uint32
	IndexLength uint32
}

const footerSize = 8

func (f Footer) encode() []byte {
	var buf [footerSize]byte
	binary.BigEndian.PutUint32(buf[0:4], f.IndexOffset)
	binary.BigEndian.PutUint32(buf[4:8], f.IndexLength)
	return buf[:]
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, ErrCorruptIndex
	}
	return Footer{
		IndexOffset: binary.BigEndian.Uint32(buf[0:4]),
		IndexLength: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// Table is a fully materialized, in-memory rendition of one on-disk
// SSTable: its data bytes plus the index describing where each block
// lives. CreationSeq resolves the compaction tie-break documented in
// DESIGN.md: level-0 tables are merged in ascending CreationSeq order so a
// later-created table's entries win over an earlier one's. ID is a
// correlation identifier for logging (flush/compaction events reference
// it rather than a file path, since this format has no file of its own).
type Table struct {
	ID          uuid.UUID
	CreationSeq uint64
	data        []byte
	index       *Index
}

// Writer accumulates key-ordered entries into data blocks and builds the
// table's index as it goes. One block per entry keeps this format simple;
// a production block encoder would pack many entries per block, which is
// out of scope here.
type Writer struct {
	creationSeq uint64
	buf         bytes.Buffer
	entries     []IndexEntry
}

// NewWriter starts a table write tagged with the given creation sequence.
func NewWriter(creationSeq uint64) *Writer {
	return &Writer{creationSeq: creationSeq}
}

// Add appends one key/value pair as its own block, recording its index
// entry keyed by that block's own key as its max key (each block holds
// exactly one entry, so the block's only key is also its max key).
func (w *Writer) Add(key string, value []byte) error {
	offset := uint32(w.buf.Len())
	payload := encodeBlock(key, value)
	if _, err := w.buf.Write(payload); err != nil {
		return errors.Wrap(err, "sstable: write data block")
	}
	w.entries = append(w.entries, IndexEntry{
		Offset: offset,
		Length: uint32(len(payload)),
		MaxKey: []byte(key),
	})
	return nil
}

// Pending returns the number of entries added since the writer was
// created, letting callers decide when to roll a new output table without
// tracking the count themselves. Finish does not reset it.
func (w *Writer) Pending() int { return len(w.entries) }

// Finish seals the writer into a queryable Table.
func (w *Writer) Finish() (*Table, error) {
	indexOffset := uint32(w.buf.Len())
	var indexRaw []byte
	for _, e := range w.entries {
		indexRaw = EncodeEntry(indexRaw, e)
	}
	w.buf.Write(indexRaw)
	footer := Footer{IndexOffset: indexOffset, IndexLength: uint32(len(indexRaw))}
	w.buf.Write(footer.encode())

	return &Table{
		ID:          uuid.New(),
		CreationSeq: w.creationSeq,
		data:        w.buf.Bytes(),
		index:       NewIndex(w.entries),
	}, nil
}

func encodeBlock(key string, value []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(value)))
	out := make([]byte, 0, len(hdr)+len(key)+len(value))
	out = append(out, hdr[:]...)
	out = append(out, key...)
	out = append(out, value...)
	return out
}

func decodeBlock(raw []byte) (string, []byte, error) {
	if len(raw) < 8 {
		return "", nil, ErrCorruptIndex
	}
	keyLen := binary.BigEndian.Uint32(raw[0:4])
	valLen := binary.BigEndian.Uint32(raw[4:8])
	start := uint32(8)
	if uint32(len(raw)) < start+keyLen+valLen {
		return "", nil, ErrCorruptIndex
	}
	key := string(raw[start : start+keyLen])
	value := raw[start+keyLen : start+keyLen+valLen]
	return key, value, nil
}

// OpenTable parses a previously written table's raw bytes, grounded on
// SSTableIndex::load_index's "seek to the footer, then walk index records"
// flow.
func OpenTable(creationSeq uint64, data []byte) (*Table, error) {
	if len(data) < footerSize {
		return nil, ErrCorruptIndex
	}
	footer, err := decodeFooter(data[len(data)-footerSize:])
	if err != nil {
		return nil, err
	}
	indexStart := int(footer.IndexOffset)
	indexEnd := indexStart + int(footer.IndexLength)
	if indexStart < 0 || indexEnd > len(data)-footerSize {
		return nil, ErrCorruptIndex
	}
	idx, err := LoadIndex(data[indexStart:indexEnd], int(footer.IndexLength))
	if err != nil {
		return nil, err
	}
	return &Table{ID: uuid.New(), CreationSeq: creationSeq, data: data, index: idx}, nil
}

// Get returns the value for key if it is the recorded max key of some
// block (this thin format stores exactly one entry per block).
func (t *Table) Get(key string) ([]byte, bool) {
	e, ok := t.index.Lookup([]byte(key))
	if !ok {
		return nil, false
	}
	k, v, err := decodeBlock(t.data[e.Offset : e.Offset+e.Length])
	if err != nil || k != key {
		return nil, false
	}
	return v, true
}

// Iter walks every entry in ascending key order.
func (t *Table) Iter() func() (record.Entry, bool) {
	entries := t.index.Entries()
	i := 0
	return func() (record.Entry, bool) {
		if i >= len(entries) {
			return record.Entry{}, false
		}
		e := entries[i]
		i++
		k, v, err := decodeBlock(t.data[e.Offset : e.Offset+e.Length])
		if err != nil {
			return record.Entry{}, false
		}
		return record.Entry{Key: k, Value: v}, true
	}
}

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.index.Entries()) }
