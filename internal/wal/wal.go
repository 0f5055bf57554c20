// Package wal implements the write-ahead log's append/recover contract:
// append(vk, value-or-tombstone) and startup replay into the active
// memtable. Fragmentation across fixed-size on-disk blocks is out of
// scope here; this keeps a length-prefixed, CRC-trailed record framing similar to the
// checksummed blocks a segmented WAL would use, but trims each record
// to a single self-describing frame instead of a block-fragmented log
// file (see DESIGN.md for the segment-deletion simplification this
// implies).
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"github.com/pkg/errors"

	"lsmkv/internal/mvcc"
)

// ErrCorruptRecord is returned by Recover when a record's checksum does
// not match its payload.
var ErrCorruptRecord = errors.New("wal: corrupt record")

// flagValue/flagTombstone distinguish a tombstone from an explicit empty
// value, since both would otherwise serialize to a zero-length value.
const (
	flagValue     byte = 0
	flagTombstone byte = 1
)

// Log is a single mutex-serialized append-only writer plus a replay
// reader: serializing appenders keeps on-disk write order equal to
// visible sequence-number order.
type Log struct {
	mu sync.Mutex
	w  io.Writer
}

// New wraps an already-open append target (typically an *os.File opened
// O_APPEND) as a Log.
func New(w io.Writer) *Log {
	return &Log{w: w}
}

// Append writes one record: uk, seq, and either a value or a tombstone
// marker, framed with a length prefix and trailed by a CRC32 checksum of
// everything after the frame's own length field.
func (l *Log) Append(vk mvcc.VersionedKey, value []byte, tombstone bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload := encodeRecord(vk, value, tombstone)
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := l.w.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "wal: append length prefix")
	}
	if _, err := l.w.Write(payload); err != nil {
		return errors.Wrap(err, "wal: append record")
	}
	return nil
}

func encodeRecord(vk mvcc.VersionedKey, value []byte, tombstone bool) []byte {
	flag := flagValue
	if tombstone {
		flag = flagTombstone
	}
	ukLen := len(vk.UK)
	valLen := len(value)
	body := make([]byte, 0, 1+8+4+ukLen+4+valLen+4)
	body = append(body, flag)

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(vk.Seq))
	body = append(body, seqBuf[:]...)

	var ukLenBuf [4]byte
	binary.BigEndian.PutUint32(ukLenBuf[:], uint32(ukLen))
	body = append(body, ukLenBuf[:]...)
	body = append(body, vk.UK...)

	var valLenBuf [4]byte
	binary.BigEndian.PutUint32(valLenBuf[:], uint32(valLen))
	body = append(body, valLenBuf[:]...)
	body = append(body, value...)

	checksum := crc32.ChecksumIEEE(body)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], checksum)
	return append(body, crcBuf[:]...)
}

// Entry is one replayed WAL record.
type Entry struct {
	VK        mvcc.VersionedKey
	Value     []byte
	Tombstone bool
}

// Recover replays every record in file order from r, calling into for each
// one, and returns the highest sequence number observed so the caller's
// Sequencer can be fast-forwarded past it on open.
func Recover(r io.Reader, into func(Entry)) (mvcc.Seq, error) {
	br := bufio.NewReader(r)
	var highest mvcc.Seq

	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(br, lenPrefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return highest, nil
			}
			return highest, errors.Wrap(err, "wal: read length prefix")
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return highest, errors.Wrap(err, "wal: read record body")
		}

		entry, err := decodeRecord(body)
		if err != nil {
			return highest, err
		}
		if entry.VK.Seq > highest {
			highest = entry.VK.Seq
		}
		into(entry)
	}
}

func decodeRecord(body []byte) (Entry, error) {
	if len(body) < 1+8+4+4+4 {
		return Entry{}, ErrCorruptRecord
	}
	payload := body[:len(body)-4]
	wantCRC := binary.BigEndian.Uint32(body[len(body)-4:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Entry{}, ErrCorruptRecord
	}

	flag := payload[0]
	seq := mvcc.Seq(binary.BigEndian.Uint64(payload[1:9]))
	ukLen := binary.BigEndian.Uint32(payload[9:13])
	ukStart := 13
	ukEnd := ukStart + int(ukLen)
	if ukEnd+4 > len(payload) {
		return Entry{}, ErrCorruptRecord
	}
	uk := string(payload[ukStart:ukEnd])
	valLen := binary.BigEndian.Uint32(payload[ukEnd : ukEnd+4])
	valStart := ukEnd + 4
	valEnd := valStart + int(valLen)
	if valEnd > len(payload) {
		return Entry{}, ErrCorruptRecord
	}
	value := append([]byte(nil), payload[valStart:valEnd]...)

	return Entry{
		VK:        mvcc.VersionedKey{UK: uk, Seq: seq},
		Value:     value,
		Tombstone: flag == flagTombstone,
	}, nil
}
