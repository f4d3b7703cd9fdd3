package sstable

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// bloomFilter is a standard k-hash bitset bloom filter over user-bytes
// keys, sized for a target number of entries and a ~1% false positive
// rate. It is rebuilt fresh for every SSTable at build time and persisted
// in its own region just before the SST footer, which records its offset.
type bloomFilter struct {
	bits *bitset.BitSet
	k    uint
	m    uint
}

func newBloomFilter(expectedEntries int) *bloomFilter {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	m, k := bloomParams(uint(expectedEntries), 0.01)
	return &bloomFilter{bits: bitset.New(m), k: k, m: m}
}

// bloomParams computes the bitset size m and hash count k for n expected
// entries and a target false positive rate p, using the standard formulas
// m = -n*ln(p)/(ln2)^2, k = (m/n)*ln2.
func bloomParams(n uint, p float64) (m, k uint) {
	mf := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	m = uint(math.Ceil(mf))
	if m < 8 {
		m = 8
	}
	kf := (float64(m) / float64(n)) * math.Ln2
	k = uint(math.Ceil(kf))
	if k < 1 {
		k = 1
	}
	return m, k
}

// locations derives k independent bit positions for key via double
// hashing (Kirsch-Mitzenmacher): h_i = h1 + i*h2 mod m.
func (f *bloomFilter) locations(key []byte) []uint {
	h1 := xxhash.Sum64(key)
	h2 := xxhash.Sum64(append(append([]byte(nil), key...), 0xff))
	locs := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		locs[i] = uint((h1 + i*h2) % uint64(f.m))
	}
	return locs
}

// Add records userBytes as present.
func (f *bloomFilter) Add(userBytes []byte) {
	for _, loc := range f.locations(userBytes) {
		f.bits.Set(loc)
	}
}

// MayContain reports whether userBytes could be present: false means
// definitely absent, true means possibly present.
func (f *bloomFilter) MayContain(userBytes []byte) bool {
	for _, loc := range f.locations(userBytes) {
		if !f.bits.Test(loc) {
			return false
		}
	}
	return true
}

// Encode serializes the filter as [u32 m][u32 k][bitset words...].
func (f *bloomFilter) Encode() []byte {
	wordBytes, _ := f.bits.MarshalBinary()
	out := make([]byte, 8+len(wordBytes))
	binary.LittleEndian.PutUint32(out[0:4], uint32(f.m))
	binary.LittleEndian.PutUint32(out[4:8], uint32(f.k))
	copy(out[8:], wordBytes)
	return out
}

func decodeBloomFilter(b []byte) (*bloomFilter, error) {
	if len(b) < 8 {
		return &bloomFilter{bits: bitset.New(8), k: 1, m: 8}, nil
	}
	m := uint(binary.LittleEndian.Uint32(b[0:4]))
	k := uint(binary.LittleEndian.Uint32(b[4:8]))
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(b[8:]); err != nil {
		return nil, err
	}
	return &bloomFilter{bits: bs, k: k, m: m}, nil
}
