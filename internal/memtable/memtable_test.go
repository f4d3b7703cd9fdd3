package memtable

import "testing"

type fixedScope struct {
	txnID    uint64
	readable map[uint64]bool
}

func (f fixedScope) TxnID() uint64 { return f.txnID }
func (f fixedScope) CanRead(writer uint64) bool {
	return f.readable[writer]
}

func TestMemtableSetGetOwnWrite(t *testing.T) {
	m := New(1, 1<<20)
	scope := fixedScope{txnID: 7, readable: map[uint64]bool{}}
	if err := m.Set([]byte("k"), []byte("v"), scope); err != nil {
		t.Fatal(err)
	}
	v, found, ok := m.Get([]byte("k"), scope)
	if !ok || !found {
		t.Fatalf("expected to read own write, got found=%v ok=%v", found, ok)
	}
	if string(v) != "v" {
		t.Fatalf("got %q, want v", v)
	}
}

func TestMemtableGetRespectsVisibility(t *testing.T) {
	m := New(1, 1<<20)
	writer := fixedScope{txnID: 1}
	if err := m.Set([]byte("k"), []byte("v1"), writer); err != nil {
		t.Fatal(err)
	}

	blind := fixedScope{txnID: 2, readable: map[uint64]bool{}}
	if _, _, ok := blind.readOrFail(m, []byte("k")); ok {
		t.Fatal("reader that cannot see txn 1 should not find the key")
	}

	sighted := fixedScope{txnID: 2, readable: map[uint64]bool{1: true}}
	v, found, ok := m.Get([]byte("k"), sighted)
	if !ok || !found || string(v) != "v1" {
		t.Fatalf("reader that can see txn 1 should read it: v=%q found=%v ok=%v", v, found, ok)
	}
}

func (f fixedScope) readOrFail(m *Memtable, key []byte) ([]byte, bool, bool) {
	return m.Get(key, f)
}

func TestMemtableDeleteTombstone(t *testing.T) {
	m := New(1, 1<<20)
	w := fixedScope{txnID: 1}
	if err := m.Set([]byte("k"), []byte("v"), w); err != nil {
		t.Fatal(err)
	}
	w2 := fixedScope{txnID: 2, readable: map[uint64]bool{1: true}}
	if err := m.Delete([]byte("k"), w2); err != nil {
		t.Fatal(err)
	}
	_, found, ok := m.Get([]byte("k"), fixedScope{txnID: 3, readable: map[uint64]bool{1: true, 2: true}})
	if !ok {
		t.Fatal("tombstone entry should still be found by the lookup")
	}
	if found {
		t.Fatal("tombstone should report found=false")
	}
}

func TestMemtableCapacity(t *testing.T) {
	m := New(1, 40)
	w := fixedScope{txnID: 1}
	if err := m.Set([]byte("k1"), []byte("v1"), w); err != nil {
		t.Fatal(err)
	}
	if err := m.Set([]byte("k2-needs-more-room-than-we-have"), []byte("v2"), w); err != ErrCapacity {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestMemtableIteratorSkipsOlderVersions(t *testing.T) {
	m := New(1, 1<<20)
	if err := m.Set([]byte("a"), []byte("a1"), fixedScope{txnID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.Set([]byte("a"), []byte("a2"), fixedScope{txnID: 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.Set([]byte("b"), []byte("b1"), fixedScope{txnID: 1}); err != nil {
		t.Fatal(err)
	}

	it := m.NewIterator(fixedScope{txnID: 3, readable: map[uint64]bool{1: true, 2: true}})
	k, v, ok := it.Next()
	if !ok || string(k) != "a" || string(v) != "a2" {
		t.Fatalf("expected (a, a2), got (%s, %s, %v)", k, v, ok)
	}
	k, v, ok = it.Next()
	if !ok || string(k) != "b" || string(v) != "b1" {
		t.Fatalf("expected (b, b1), got (%s, %s, %v)", k, v, ok)
	}
	if _, _, ok := it.Next(); ok {
		t.Fatal("expected iterator exhausted")
	}
}

func TestSetRotate(t *testing.T) {
	m := New(1, 1<<20)
	s := NewSet(m, 1<<20, 2)
	if s.Active().ID != 1 {
		t.Fatalf("active id = %d, want 1", s.Active().ID)
	}
	if toFlush := s.Rotate(nil); toFlush != nil {
		t.Fatal("first rotation should not evict anything")
	}
	if s.Active().ID != 2 {
		t.Fatalf("active id = %d, want 2", s.Active().ID)
	}
	if len(s.Inactive()) != 1 {
		t.Fatalf("expected 1 inactive memtable, got %d", len(s.Inactive()))
	}
}
