package sstable

import "bytes"

// Iterator walks an SSTable's blocks in key order, exposing every
// (userBytes, txnID, value) entry without collapsing duplicate user-bytes
// versions: callers that need "one version per row" (compaction, the
// keyspace merge) make that decision themselves by comparing consecutive
// entries, since compaction needs to see every version to honor rollback.
type Iterator struct {
	s        *SSTable
	blockIdx int
	block    *Block
	pos      int
}

// NewIterator returns an iterator positioned before the SSTable's first
// entry.
func (s *SSTable) NewIterator() *Iterator {
	return &Iterator{s: s, blockIdx: -1, pos: -1}
}

// Seek positions the iterator so Next yields the first entry at or after
// userBytes (strictly after, if inclusive is false).
func (it *Iterator) Seek(userBytes []byte, inclusive bool) {
	metas := it.s.metas
	idx := 0
	for idx < len(metas) {
		c := bytes.Compare(metas[idx].lastKey, userBytes)
		if c > 0 || (c == 0 && inclusive) {
			break
		}
		idx++
	}
	if idx >= len(metas) {
		it.blockIdx = len(metas)
		it.block = nil
		return
	}
	block, err := it.s.loadBlock(idx)
	if err != nil {
		it.blockIdx = len(metas)
		it.block = nil
		return
	}
	it.blockIdx = idx
	it.block = block
	it.pos = block.seekIndex(userBytes, inclusive) - 1
}

// Next advances to and returns the next logical entry, stitching overflow
// fragments together the same way SSTable.Get does, or ok=false at EOF.
func (it *Iterator) Next() (userBytes []byte, txnID uint64, value []byte, ok bool) {
	for {
		e, hasOverflow, advanced := it.nextRaw()
		if !advanced {
			return nil, 0, nil, false
		}
		val := e.value
		for hasOverflow {
			next, more, advanced := it.nextRaw()
			if !advanced {
				break
			}
			val = append(append([]byte(nil), val...), next.value...)
			hasOverflow = more
		}
		return e.userBytes, e.txnID, val, true
	}
}

// nextRaw returns the next raw block entry plus whether the block it came
// from is itself an overflow-continues block and this was the block's last
// entry (signalling the next raw entry is this value's continuation).
func (it *Iterator) nextRaw() (e entry, continues bool, ok bool) {
	if it.block == nil {
		it.blockIdx++
		if it.blockIdx >= len(it.s.metas) {
			return entry{}, false, false
		}
		b, err := it.s.loadBlock(it.blockIdx)
		if err != nil {
			return entry{}, false, false
		}
		it.block = b
		it.pos = -1
	}
	it.pos++
	if it.pos >= len(it.block.entries) {
		it.block = nil
		return it.nextRaw()
	}
	e = it.block.entries[it.pos]
	isLast := it.pos == len(it.block.entries)-1
	continues = isLast && it.block.overflow
	return e, continues, true
}

// Close is a no-op placeholder for symmetry with other iterator types;
// the SSTable itself owns the mmap/byte buffer lifetime.
func (it *Iterator) Close() error { return nil }
