package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/vfs"
)

var (
	ErrNotFound  = errors.New("sstable: key not found")
	ErrCorrupt   = errors.New("sstable: footer or region checksum invalid")
)

// State mirrors the single state byte an SSTable carries in its footer.
// Active is the only state written by build; compaction marks the
// superseded inputs for unlink rather than rewriting this byte in place.
type State uint8

const (
	StateActive State = iota + 1
	StateCompacting
)

const footerSize = 13
const blockMetaEntryFixedSize = 4 + 2 + 2 + 4 + 4 // crc + firstKeyLen + lastKeyLen + blockOffset + blockLen

// blockMeta is one entry of the SSTable's block index.
type blockMeta struct {
	checksum    uint32
	firstKey    []byte
	lastKey     []byte
	blockOffset uint32
	blockLen    uint32
}

func encodeBlockMetaArray(metas []blockMeta) []byte {
	var body bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(metas)))
	body.Write(countBuf[:])
	for _, m := range metas {
		entry := make([]byte, blockMetaEntryFixedSize+len(m.firstKey)+len(m.lastKey))
		binary.LittleEndian.PutUint32(entry[0:4], m.checksum)
		binary.LittleEndian.PutUint16(entry[4:6], uint16(len(m.firstKey)))
		binary.LittleEndian.PutUint16(entry[6:8], uint16(len(m.lastKey)))
		binary.LittleEndian.PutUint32(entry[8:12], m.blockOffset)
		binary.LittleEndian.PutUint32(entry[12:16], m.blockLen)
		off := 16
		copy(entry[off:], m.firstKey)
		off += len(m.firstKey)
		copy(entry[off:], m.lastKey)
		body.Write(entry)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	return append(lenBuf[:], body.Bytes()...)
}

func decodeBlockMetaArray(b []byte) ([]blockMeta, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrCorrupt
	}
	regionLen := int(binary.LittleEndian.Uint32(b[0:4]))
	if len(b) < 4+regionLen {
		return nil, 0, ErrCorrupt
	}
	region := b[4 : 4+regionLen]
	if len(region) < 4 {
		return nil, 0, ErrCorrupt
	}
	count := int(binary.LittleEndian.Uint32(region[0:4]))
	pos := 4
	metas := make([]blockMeta, 0, count)
	for i := 0; i < count; i++ {
		if pos+16 > len(region) {
			return nil, 0, ErrCorrupt
		}
		checksum := binary.LittleEndian.Uint32(region[pos : pos+4])
		flen := int(binary.LittleEndian.Uint16(region[pos+4 : pos+6]))
		llen := int(binary.LittleEndian.Uint16(region[pos+6 : pos+8]))
		blockOffset := binary.LittleEndian.Uint32(region[pos+8 : pos+12])
		blockLen := binary.LittleEndian.Uint32(region[pos+12 : pos+16])
		pos += 16
		if pos+flen+llen > len(region) {
			return nil, 0, ErrCorrupt
		}
		firstKey := append([]byte(nil), region[pos:pos+flen]...)
		pos += flen
		lastKey := append([]byte(nil), region[pos:pos+llen]...)
		pos += llen
		metas = append(metas, blockMeta{checksum: checksum, firstKey: firstKey, lastKey: lastKey, blockOffset: blockOffset, blockLen: blockLen})
	}
	return metas, 4 + regionLen, nil
}

// Builder accumulates sorted entries into sealed blocks and writes the
// final immutable SSTable file on Finish.
type Builder struct {
	blockSize       int
	bloomEntries    int
	currentEntries  []entry
	currentSize     int
	metas           []blockMeta
	blocksRaw       bytes.Buffer
	bloom           *bloomFilter
	activeTxnIDs    map[uint64]struct{}
	firstKey        []byte
	lastKey         []byte
}

// NewBuilder starts an empty builder targeting blockSize-byte blocks and a
// bloom filter sized for bloomEntries expected keys.
func NewBuilder(blockSize, bloomEntries int) *Builder {
	return &Builder{
		blockSize:    blockSize,
		bloomEntries: bloomEntries,
		bloom:        newBloomFilter(bloomEntries),
		activeTxnIDs: make(map[uint64]struct{}),
	}
}

// MarkActiveTxnID records a transaction id that was still live when one of
// its writes was flushed into this SSTable; persisted into the footer so a
// reader can reconstruct visibility for it later.
func (b *Builder) MarkActiveTxnID(txnID uint64) {
	b.activeTxnIDs[txnID] = struct{}{}
}

// Add appends one entry in sorted order. Values larger than blockSize are
// chained across consecutive overflow blocks.
func (b *Builder) Add(userBytes []byte, txnID uint64, value []byte) {
	if b.firstKey == nil {
		b.firstKey = append([]byte(nil), userBytes...)
	}
	b.lastKey = append([]byte(nil), userBytes...)
	b.bloom.Add(userBytes)

	maxValuePerEntry := b.blockSize - blockEntryOverhead(userBytes)
	if maxValuePerEntry < 1 {
		maxValuePerEntry = 1
	}
	if len(value) <= maxValuePerEntry {
		b.addEntry(entry{userBytes: userBytes, txnID: txnID, value: value}, false)
		return
	}

	// Chain across overflow blocks: flush the current block first so each
	// overflow chunk starts a fresh block, making the reader's "read
	// consecutive blocks until the overflow bit clears" rule simple.
	b.flushBlock(false)
	for off := 0; off < len(value); off += maxValuePerEntry {
		end := off + maxValuePerEntry
		if end > len(value) {
			end = len(value)
		}
		continues := end < len(value)
		b.currentEntries = append(b.currentEntries, entry{userBytes: userBytes, txnID: txnID, value: value[off:end]})
		b.flushBlock(continues)
	}
}

func blockEntryOverhead(userBytes []byte) int {
	return 2 + 8 + len(userBytes) + 2 + 2 // entry header + offset slot, leaving room for the block footer
}

func (b *Builder) addEntry(e entry, overflow bool) {
	size := len(encodeEntry(e)) + 2
	if len(b.currentEntries) > 0 && b.currentSize+size+12 > b.blockSize {
		b.flushBlock(false)
	}
	b.currentEntries = append(b.currentEntries, e)
	b.currentSize += size
	if overflow {
		b.flushBlock(true)
	}
}

func (b *Builder) flushBlock(overflow bool) {
	if len(b.currentEntries) == 0 {
		return
	}
	sealed := sealBlock(b.currentEntries, overflow)
	offset := uint32(b.blocksRaw.Len())
	b.blocksRaw.Write(sealed.raw)
	b.metas = append(b.metas, blockMeta{
		checksum:    sealed.checksum,
		firstKey:    append([]byte(nil), sealed.firstKey...),
		lastKey:     append([]byte(nil), sealed.lastKey...),
		blockOffset: offset,
		blockLen:    uint32(len(sealed.raw)),
	})
	b.currentEntries = b.currentEntries[:0]
	b.currentSize = 0
}

func encodeActiveTxnIDs(ids map[uint64]struct{}) []byte {
	sorted := make([]uint64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	buf := make([]byte, 4+8*len(sorted))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(sorted)))
	for i, id := range sorted {
		binary.LittleEndian.PutUint64(buf[4+8*i:12+8*i], id)
	}
	return buf
}

func decodeActiveTxnIDs(b []byte) (map[uint64]struct{}, error) {
	ids := make(map[uint64]struct{})
	if len(b) < 4 {
		return ids, nil
	}
	count := int(binary.LittleEndian.Uint32(b[0:4]))
	if len(b) < 4+8*count {
		return nil, ErrCorrupt
	}
	for i := 0; i < count; i++ {
		ids[binary.LittleEndian.Uint64(b[4+8*i:12+8*i])] = struct{}{}
	}
	return ids, nil
}

// Finish seals any pending block and writes the complete SSTable file:
// blocks, block-metadata array, active-txn-ids set, bloom filter, footer.
func (b *Builder) Finish(fs afero.Fs, path string, level uint32) error {
	b.flushBlock(false)
	if len(b.metas) == 0 {
		return errors.New("sstable: cannot build an empty SSTable")
	}

	metaRegion := encodeBlockMetaArray(b.metas)
	activeTxnRegion := encodeActiveTxnIDs(b.activeTxnIDs)
	bloomRegion := b.bloom.Encode()

	var out bytes.Buffer
	out.Write(b.blocksRaw.Bytes())

	metaOffset := uint32(out.Len())
	out.Write(metaRegion)
	out.Write(activeTxnRegion)
	bloomOffset := uint32(out.Len())
	out.Write(bloomRegion)

	footer := make([]byte, footerSize)
	footer[0] = byte(StateActive)
	binary.LittleEndian.PutUint32(footer[1:5], level)
	binary.LittleEndian.PutUint32(footer[5:9], bloomOffset)
	binary.LittleEndian.PutUint32(footer[9:13], metaOffset)
	out.Write(footer)

	f, err := vfs.Open(fs, path, vfs.ModeRandom)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Clear(); err != nil {
		return err
	}
	if _, err := f.Write(out.Bytes()); err != nil {
		return err
	}
	return f.Fsync()
}

// SSTable is an opened, immutable sorted-string table ready to serve
// point lookups and range scans.
type SSTable struct {
	path         string
	raw          []byte
	mapped       *mmap.MMap
	metas        []blockMeta
	bloom        *bloomFilter
	activeTxnIDs map[uint64]struct{}
	state        State
	level        uint32
	firstKey     []byte
	lastKey      []byte
	blockCache   BlockCache
}

// BlockCache is the dependency SSTable needs from the block cache package
// (internal/cache) without importing it directly: a per-block-index cache
// of decoded (but not yet re-parsed) raw block bytes.
type BlockCache interface {
	Get(blockIndex int) ([]byte, bool)
	Put(blockIndex int, raw []byte)
}

// SetCache attaches a block cache; subsequent block loads consult it
// before reading from the underlying file/mmap, per spec.md §4.7.
func (s *SSTable) SetCache(c BlockCache) { s.blockCache = c }

// Open reads the whole file into memory and parses its footer, block
// metadata array, active-txn-ids set and bloom filter. Only data blocks
// carry a checksum, verified when a block is loaded; the footer and the
// other regions are parsed without one. OpenMmap maps the file instead.
func Open(fs afero.Fs, path string) (*SSTable, error) {
	f, err := vfs.Open(fs, path, vfs.ModeReadOnly)
	if err != nil {
		return nil, err
	}
	raw, err := f.ReadAll()
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return openFromBytes(path, raw)
}

func openFromBytes(path string, raw []byte) (*SSTable, error) {
	if len(raw) < footerSize {
		return nil, ErrCorrupt
	}
	footer := raw[len(raw)-footerSize:]
	state := State(footer[0])
	level := binary.LittleEndian.Uint32(footer[1:5])
	bloomOffset := binary.LittleEndian.Uint32(footer[5:9])
	metaOffset := binary.LittleEndian.Uint32(footer[9:13])

	metas, metaConsumed, err := decodeBlockMetaArray(raw[metaOffset:])
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	activeTxnStart := int(metaOffset) + metaConsumed
	activeTxnIDs, err := decodeActiveTxnIDs(raw[activeTxnStart:bloomOffset])
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	bloom, err := decodeBloomFilter(raw[bloomOffset : len(raw)-footerSize])
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	var firstKey, lastKey []byte
	if len(metas) > 0 {
		firstKey = metas[0].firstKey
		lastKey = metas[len(metas)-1].lastKey
	}

	return &SSTable{
		path:         path,
		raw:          raw,
		metas:        metas,
		bloom:        bloom,
		activeTxnIDs: activeTxnIDs,
		state:        state,
		level:        level,
		firstKey:     firstKey,
		lastKey:      lastKey,
	}, nil
}

// OpenMmap is like Open but memory-maps the file instead of reading it
// fully into the heap, for the read path on large SSTables backed by a
// real on-disk filesystem (mock filesystems used in tests fall back to
// Open's full-read path, since afero's in-memory files have no file
// descriptor to map).
func OpenMmap(path string, osFile *os.File) (*SSTable, error) {
	m, err := mmap.Map(osFile, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	sst, err := openFromBytes(path, []byte(m))
	if err != nil {
		_ = m.Unmap()
		return nil, err
	}
	sst.mapped = &m
	return sst, nil
}

func (s *SSTable) Level() uint32    { return s.level }
func (s *SSTable) FirstKey() []byte { return s.firstKey }
func (s *SSTable) LastKey() []byte  { return s.lastKey }
func (s *SSTable) State() State     { return s.state }

// ActiveTxnIDs returns the transactions that were still live when this
// SSTable was built and contributed at least one entry.
func (s *SSTable) ActiveTxnIDs() map[uint64]struct{} { return s.activeTxnIDs }

// Close releases the mmap region, if one was used.
func (s *SSTable) Close() error {
	if s.mapped != nil {
		return s.mapped.Unmap()
	}
	return nil
}

// Get looks up userBytes for the given read scope. It fast-rejects via the
// first/last key range, then the bloom filter, then binary-searches the
// block metadata array, decoding (and, on overflow, stitching together)
// only the block(s) it needs.
func (s *SSTable) Get(userBytes []byte, scope readScope) (value []byte, found bool, ok bool) {
	if len(s.metas) == 0 {
		return nil, false, false
	}
	if bytes.Compare(userBytes, s.firstKey) < 0 || bytes.Compare(userBytes, s.lastKey) > 0 {
		return nil, false, false
	}
	if !s.bloom.MayContain(userBytes) {
		return nil, false, false
	}

	idx := sort.Search(len(s.metas), func(i int) bool {
		return bytes.Compare(s.metas[i].lastKey, userBytes) >= 0
	})
	if idx >= len(s.metas) || bytes.Compare(s.metas[idx].firstKey, userBytes) > 0 {
		return nil, false, false
	}

	cur, err := s.loadBlock(idx)
	if err != nil {
		return nil, false, false
	}
	curPos := cur.search(userBytes)
	if curPos == -1 {
		return nil, false, false
	}
	e, pos, hit := cur.get(curPos, scope)
	block, blockIdx := cur, idx

	// A run of duplicate versions of userBytes can straddle a block
	// boundary when the builder seals a full block mid-key. If the
	// currently-scanned block's last entry is still userBytes, the run may
	// continue into the next block(s); follow it the same way the
	// value-overflow stitch below follows a value split across blocks.
	// block/blockIdx/pos track the best (highest readable txn id) entry
	// found so far, kept distinct from cur/curIdx (the scan cursor) so a
	// miss in a later block never loses the earlier hit.
	curIdx := idx
	for len(cur.entries) > 0 && bytes.Equal(cur.entries[len(cur.entries)-1].userBytes, userBytes) {
		curIdx++
		if curIdx >= len(s.metas) {
			break
		}
		next, nerr := s.loadBlock(curIdx)
		if nerr != nil || len(next.entries) == 0 || !bytes.Equal(next.entries[0].userBytes, userBytes) {
			break
		}
		// After an overflow-continues block, the next block's first entry
		// is the rest of that value, not another version.
		fragment := cur.overflow
		cur = next
		if fragment {
			continue
		}
		if ne, npos, nhit := cur.get(0, scope); nhit {
			e, pos, hit = ne, npos, true
			block, blockIdx = cur, curIdx
		}
	}
	if !hit {
		return nil, false, false
	}

	value = e.value
	for block.overflow && pos == len(block.entries)-1 {
		blockIdx++
		if blockIdx >= len(s.metas) {
			break
		}
		next, err := s.loadBlock(blockIdx)
		if err != nil {
			break
		}
		value = append(append([]byte(nil), value...), next.entries[0].value...)
		block = next
		pos = 0
	}
	return value, !isTombstoneJoined(value), true
}

func isTombstoneJoined(value []byte) bool { return len(value) == 0 }

func (s *SSTable) loadBlock(idx int) (*Block, error) {
	if s.blockCache != nil {
		if raw, ok := s.blockCache.Get(idx); ok {
			return DecodeBlock(raw)
		}
	}
	m := s.metas[idx]
	raw := s.raw[m.blockOffset : m.blockOffset+m.blockLen]
	if err := verifyChecksum(raw, m.checksum); err != nil {
		return nil, err
	}
	if s.blockCache != nil {
		s.blockCache.Put(idx, raw)
	}
	return DecodeBlock(raw)
}

// BlockCount returns the number of blocks, used by the block cache to size
// itself and by tests.
func (s *SSTable) BlockCount() int { return len(s.metas) }
