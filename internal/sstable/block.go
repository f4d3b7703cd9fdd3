// Package sstable implements the on-disk sorted-string-table format: fixed
// size blocks of sorted entries, sealed with a CRC, indexed by a block
// metadata array, and guarded by a bloom filter and footer.
package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sort"
)

var (
	ErrChecksum  = errors.New("sstable: block checksum mismatch")
	ErrNoEntries = errors.New("sstable: block has no entries")
)

// flag bits in a block's footer.
const (
	flagOverflowContinues = 1 << 0
	flagPrefixCompressed  = 1 << 1
)

// entry is one (key, value) pair inside a block. txnID and userBytes are
// kept separate (rather than a types.Key) because the block wire format
// encodes their lengths with different widths than the WAL does.
type entry struct {
	userBytes []byte
	txnID     uint64
	value     []byte
}

// Block is a decoded, in-memory view of one sorted page of entries.
type Block struct {
	entries  []entry
	overflow bool // true if the last entry's value continues into the next block
}

func encodeEntry(e entry) []byte {
	buf := make([]byte, 2+8+len(e.userBytes)+2+len(e.value))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(e.userBytes)))
	binary.LittleEndian.PutUint64(buf[2:10], e.txnID)
	copy(buf[10:], e.userBytes)
	off := 10 + len(e.userBytes)
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(e.value)))
	copy(buf[off+2:], e.value)
	return buf
}

func decodeEntry(b []byte) (entry, int, error) {
	if len(b) < 10 {
		return entry{}, 0, ErrNoEntries
	}
	klen := binary.LittleEndian.Uint16(b[0:2])
	txnID := binary.LittleEndian.Uint64(b[2:10])
	if len(b) < 10+int(klen)+2 {
		return entry{}, 0, ErrNoEntries
	}
	userBytes := append([]byte(nil), b[10:10+int(klen)]...)
	off := 10 + int(klen)
	vlen := binary.LittleEndian.Uint16(b[off : off+2])
	if len(b) < off+2+int(vlen) {
		return entry{}, 0, ErrNoEntries
	}
	value := append([]byte(nil), b[off+2:off+2+int(vlen)]...)
	return entry{userBytes: userBytes, txnID: txnID, value: value}, off + 2 + int(vlen), nil
}

// EncodeBlock serializes entries (already sorted by (userBytes, txnID)
// ascending) into the wire layout:
// [entries...][offsets as u16 LE][footer: u16 n_entries, u16 offsets_offset, u64 flags]
func EncodeBlock(entries []entry, overflow bool) []byte {
	var body bytes.Buffer
	offsets := make([]uint16, 0, len(entries))
	for _, e := range entries {
		offsets = append(offsets, uint16(body.Len()))
		body.Write(encodeEntry(e))
	}
	offsetsOffset := body.Len()
	for _, off := range offsets {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], off)
		body.Write(b[:])
	}

	var flags uint64
	if overflow {
		flags |= flagOverflowContinues
	}

	footer := make([]byte, 12)
	binary.LittleEndian.PutUint16(footer[0:2], uint16(len(entries)))
	binary.LittleEndian.PutUint16(footer[2:4], uint16(offsetsOffset))
	binary.LittleEndian.PutUint64(footer[4:12], flags)
	body.Write(footer)
	return body.Bytes()
}

// DecodeBlock parses the wire layout EncodeBlock produces.
func DecodeBlock(raw []byte) (*Block, error) {
	if len(raw) < 12 {
		return nil, ErrNoEntries
	}
	footer := raw[len(raw)-12:]
	nEntries := int(binary.LittleEndian.Uint16(footer[0:2]))
	offsetsOffset := int(binary.LittleEndian.Uint16(footer[2:4]))
	flags := binary.LittleEndian.Uint64(footer[4:12])

	offsetsRegion := raw[offsetsOffset : len(raw)-12]
	if len(offsetsRegion) != nEntries*2 {
		return nil, ErrNoEntries
	}
	entries := make([]entry, 0, nEntries)
	for i := 0; i < nEntries; i++ {
		off := binary.LittleEndian.Uint16(offsetsRegion[i*2 : i*2+2])
		var end int
		if i+1 < nEntries {
			end = int(binary.LittleEndian.Uint16(offsetsRegion[(i+1)*2 : (i+1)*2+2]))
		} else {
			end = offsetsOffset
		}
		e, _, err := decodeEntry(raw[off:end])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &Block{entries: entries, overflow: flags&flagOverflowContinues != 0}, nil
}

// sealedBlock is a block plus the CRC32 BlockMetadata carries alongside it
// in the SSTable's metadata array.
type sealedBlock struct {
	raw      []byte
	checksum uint32
	firstKey []byte
	lastKey  []byte
}

func sealBlock(entries []entry, overflow bool) sealedBlock {
	raw := EncodeBlock(entries, overflow)
	return sealedBlock{
		raw:      raw,
		checksum: crc32.ChecksumIEEE(raw),
		firstKey: entries[0].userBytes,
		lastKey:  entries[len(entries)-1].userBytes,
	}
}

// verifyChecksum confirms raw matches the recorded CRC, returning
// ErrChecksum if it does not.
func verifyChecksum(raw []byte, want uint32) error {
	if crc32.ChecksumIEEE(raw) != want {
		return ErrChecksum
	}
	return nil
}

// search performs a binary search over a decoded block's entries for
// userBytes, returning the index of the first entry with that key (the
// lowest txn id among duplicates) or -1.
func (b *Block) search(userBytes []byte) int {
	n := len(b.entries)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(b.entries[i].userBytes, userBytes) >= 0
	})
	if i < n && bytes.Equal(b.entries[i].userBytes, userBytes) {
		return i
	}
	return -1
}

// get scans the run of duplicate user-byte entries starting at idx, picking
// the highest txn id the scope can read, within this block only — a
// duplicate-key run that continues past this block's last entry is the
// caller's (SSTable.Get's) concern, since only it can load the next block.
func (b *Block) get(idx int, scope readScope) (entry, int, bool) {
	userBytes := b.entries[idx].userBytes
	best := -1
	for i := idx; i < len(b.entries) && bytes.Equal(b.entries[i].userBytes, userBytes); i++ {
		if b.entries[i].txnID == scope.TxnID() || scope.CanRead(b.entries[i].txnID) {
			best = i
		}
	}
	if best == -1 {
		return entry{}, -1, false
	}
	return b.entries[best], best, true
}

// readScope mirrors memtable.ReadScope; duplicated here (rather than
// imported) to keep sstable free of a dependency on the memtable package.
type readScope interface {
	TxnID() uint64
	CanRead(writerTxnID uint64) bool
}

// seekIndex returns the index Iterator.Seek starts from: the first entry
// at or after userBytes (strictly after when inclusive is false), or
// len(entries) when every entry sorts before it.
func (b *Block) seekIndex(userBytes []byte, inclusive bool) int {
	n := len(b.entries)
	idx := sort.Search(n, func(i int) bool {
		c := bytes.Compare(b.entries[i].userBytes, userBytes)
		if inclusive {
			return c >= 0
		}
		return c > 0
	})
	return idx
}
