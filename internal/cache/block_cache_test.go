package cache

import "testing"

func TestBlockCachePutGet(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(0, []byte("block0"))
	c.Put(1, []byte("block1"))
	if v, ok := c.Get(0); !ok || string(v) != "block0" {
		t.Fatalf("got %q, %v", v, ok)
	}
}

func TestBlockCacheEvictsLRU(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(0, []byte("a"))
	c.Put(1, []byte("b"))
	c.Put(2, []byte("c")) // evicts 0 (least recently used)
	if _, ok := c.Get(0); ok {
		t.Fatal("expected block 0 to be evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("expected block 2 to be present")
	}
}
