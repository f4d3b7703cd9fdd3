package sstable

import (
	"testing"

	"github.com/return2faye/siltsql/internal/vfs"
)

type allVisible struct{ txnID uint64 }

func (a allVisible) TxnID() uint64          { return a.txnID }
func (a allVisible) CanRead(uint64) bool    { return true }

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	entries := []entry{
		{userBytes: []byte("a"), txnID: 1, value: []byte("a1")},
		{userBytes: []byte("b"), txnID: 1, value: []byte("b1")},
		{userBytes: []byte("b"), txnID: 2, value: []byte("b2")},
	}
	raw := EncodeBlock(entries, false)
	block, err := DecodeBlock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(block.entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(block.entries))
	}
	idx := block.search([]byte("b"))
	if idx == -1 {
		t.Fatal("expected to find key b")
	}
	e, _, ok := block.get(idx, allVisible{txnID: 5})
	if !ok || string(e.value) != "b2" {
		t.Fatalf("expected newest version b2, got %q ok=%v", e.value, ok)
	}
}

func TestBloomFilter(t *testing.T) {
	f := newBloomFilter(100)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		f.Add(k)
	}
	for _, k := range keys {
		if !f.MayContain(k) {
			t.Fatalf("expected MayContain(%s) = true", k)
		}
	}
	enc := f.Encode()
	decoded, err := decodeBloomFilter(enc)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if !decoded.MayContain(k) {
			t.Fatalf("decoded filter lost key %s", k)
		}
	}
}

func TestBuilderAndOpenGet(t *testing.T) {
	fs := vfs.NewMockFs()
	b := NewBuilder(256, 16)
	b.MarkActiveTxnID(9)
	rows := []struct {
		key   string
		txnID uint64
		value string
	}{
		{"apple", 1, "fruit-a"},
		{"banana", 1, "fruit-b"},
		{"banana", 2, "fruit-b-updated"},
		{"cherry", 3, "fruit-c"},
	}
	for _, r := range rows {
		b.Add([]byte(r.key), r.txnID, []byte(r.value))
	}
	if err := b.Finish(fs, "sst-1", 0); err != nil {
		t.Fatal(err)
	}

	sst, err := Open(fs, "sst-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sst.Close()

	if sst.Level() != 0 {
		t.Fatalf("level = %d, want 0", sst.Level())
	}
	if _, ok := sst.ActiveTxnIDs()[9]; !ok {
		t.Fatal("expected active txn id 9 to be persisted")
	}

	v, found, ok := sst.Get([]byte("banana"), allVisible{txnID: 10})
	if !ok || !found || string(v) != "fruit-b-updated" {
		t.Fatalf("got v=%q found=%v ok=%v, want fruit-b-updated", v, found, ok)
	}

	_, _, ok = sst.Get([]byte("durian"), allVisible{txnID: 10})
	if ok {
		t.Fatal("expected durian to fast-reject via range/bloom check")
	}
}

func TestBuilderOverflowChaining(t *testing.T) {
	fs := vfs.NewMockFs()
	b := NewBuilder(64, 4)
	bigValue := make([]byte, 500)
	for i := range bigValue {
		bigValue[i] = byte(i % 251)
	}
	b.Add([]byte("k"), 1, bigValue)
	if err := b.Finish(fs, "sst-big", 0); err != nil {
		t.Fatal(err)
	}

	sst, err := Open(fs, "sst-big")
	if err != nil {
		t.Fatal(err)
	}
	defer sst.Close()

	v, found, ok := sst.Get([]byte("k"), allVisible{txnID: 2})
	if !ok || !found {
		t.Fatalf("expected to find overflowed key, found=%v ok=%v", found, ok)
	}
	if len(v) != len(bigValue) {
		t.Fatalf("got %d bytes, want %d", len(v), len(bigValue))
	}
	for i := range v {
		if v[i] != bigValue[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, v[i], bigValue[i])
		}
	}
}
