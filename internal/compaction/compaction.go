// Package compaction implements the level-0 to level-1 compaction merger:
// it interleaves a sorted in-memory map built from the level-0 tables
// with the overlapping, already-sorted level-1 tables, and partitions
// the merged stream into size-balanced output tables. Grounded on
// ChiangYintso/KVLite's src/sstable/level0_compact.rs
// (merge_level0_tables, compact_and_insert).
package compaction

import (
	"lsmkv/internal/record"
	"lsmkv/internal/skiplist"
	"lsmkv/internal/sstable"
)

// DefaultThreshold is the level-0 table count that triggers compaction, and
// the divisor used to size output tables, when a caller has no configured
// value of its own (config.Default().Level0Threshold matches it).
const DefaultThreshold = 4

// SeqSource allocates the creation sequence stamped onto newly emitted
// tables, so later compactions can still apply the same recency tie-break.
type SeqSource func() uint64

// MergeLevel0 merges level0 (possibly overlapping) tables together with
// the level1 tables that overlap their combined key range, and returns the
// replacement level-1 tables. threshold sizes the output partitions (and is
// typically the same count used to decide when to trigger compaction;
// threshold <= 0 falls back to DefaultThreshold). Later-created level-0
// tables win ties over earlier ones, resolving the compaction
// key-selection open question recorded in DESIGN.md: inputs are merged in
// ascending CreationSeq order so a more recently created table's value for
// a given key is the one that survives into L0, matching "level-0 wins,
// most-recent level-0 wins ties among level-0".
func MergeLevel0(level0 []*sstable.Table, level1 []*sstable.Table, threshold int, nextSeq SeqSource) ([]*sstable.Table, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	l0 := mergeLevel0Tables(level0)

	level1Total := 0
	for _, t := range level1 {
		level1Total += t.Len()
	}

	if len(level1) == 0 {
		return partitionNoLevel1(l0, threshold, nextSeq)
	}

	kvTotal := l0.Len() + level1Total
	partitionSize := kvTotal / threshold
	if partitionSize == 0 {
		partitionSize = kvTotal
	}
	return mergeWithLevel1(l0, level1, partitionSize, nextSeq)
}

// mergeLevel0Tables implements Phase 1: every level-0 table's entries are
// inserted into one ordered map; tables are visited oldest-CreationSeq
// first so a younger table's value overwrites an older one's on key
// collision.
func mergeLevel0Tables(tables []*sstable.Table) *skiplist.Map[string, []byte] {
	ordered := make([]*sstable.Table, len(tables))
	copy(ordered, tables)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].CreationSeq < ordered[j-1].CreationSeq; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	merged := skiplist.NewMap[string, []byte](func(a, b string) bool { return a < b })
	for _, table := range ordered {
		next := table.Iter()
		for {
			e, ok := next()
			if !ok {
				break
			}
			merged.Insert(e.Key, e.Value)
		}
	}
	return merged
}

// partitionNoLevel1 implements Phase 2/3's level-1-empty branch: L0 is cut
// into consecutive runs of size |L0|/threshold (or emitted whole if that
// is zero).
func partitionNoLevel1(l0 *skiplist.Map[string, []byte], threshold int, nextSeq SeqSource) ([]*sstable.Table, error) {
	partitionSize := l0.Len() / threshold

	var outputs []*sstable.Table
	w := sstable.NewWriter(nextSeq())
	it := l0.Iter()
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		if err := w.Add(k, v); err != nil {
			return nil, err
		}
		if partitionSize > 0 && w.Pending()%partitionSize == 0 {
			tbl, err := w.Finish()
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, tbl)
			w = sstable.NewWriter(nextSeq())
		}
	}
	if w.Pending() > 0 {
		tbl, err := w.Finish()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, tbl)
	}
	return outputs, nil
}

// mergeWithLevel1 implements Phase 3: an N-way merge of the L0 map against
// the already non-overlapping, sorted level-1 tables, flushing the output
// writer every time its accumulated entry count reaches a multiple of
// partitionSize.
func mergeWithLevel1(l0 *skiplist.Map[string, []byte], level1 []*sstable.Table, partitionSize int, nextSeq SeqSource) ([]*sstable.Table, error) {
	var outputs []*sstable.Table
	w := sstable.NewWriter(nextSeq())
	count := 0

	flushIfDue := func() error {
		if partitionSize > 0 && count%partitionSize == 0 {
			tbl, err := w.Finish()
			if err != nil {
				return err
			}
			outputs = append(outputs, tbl)
			w = sstable.NewWriter(nextSeq())
		}
		return nil
	}

	emit := func(e record.Entry) error {
		if err := w.Add(e.Key, e.Value); err != nil {
			return err
		}
		count++
		return flushIfDue()
	}

	l0Iter := l0.Iter()
	k0, v0, k0ok := l0Iter.Next()

	for _, table := range level1 {
		next := table.Iter()
	level1Entries:
		for {
			e1, ok := next()
			if !ok {
				break
			}
			if !k0ok {
				if err := emit(e1); err != nil {
					return nil, err
				}
				continue
			}
			for {
				switch {
				case k0 == e1.Key:
					if err := emit(record.Entry{Key: k0, Value: v0}); err != nil {
						return nil, err
					}
					k0, v0, k0ok = l0Iter.Next()
					continue level1Entries
				case k0 > e1.Key:
					if err := emit(e1); err != nil {
						return nil, err
					}
					continue level1Entries
				default: // k0 < e1.Key
					if err := emit(record.Entry{Key: k0, Value: v0}); err != nil {
						return nil, err
					}
					k0, v0, k0ok = l0Iter.Next()
					if !k0ok {
						if err := emit(e1); err != nil {
							return nil, err
						}
						continue level1Entries
					}
				}
			}
		}
	}

	for k0ok {
		if err := emit(record.Entry{Key: k0, Value: v0}); err != nil {
			return nil, err
		}
		k0, v0, k0ok = l0Iter.Next()
	}

	if w.Pending() > 0 {
		tbl, err := w.Finish()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, tbl)
	}
	return outputs, nil
}
