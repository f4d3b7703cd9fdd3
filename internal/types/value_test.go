package types

import "testing"

func TestValueEqualNull(t *testing.T) {
	eq, err := Null.Equal(Null)
	if err != nil || !eq {
		t.Fatalf("equal(null, null) = %v, %v; want true, nil", eq, err)
	}
	eq, err = Null.Equal(NewI64(1))
	if err != nil || eq {
		t.Fatalf("equal(null, 1) = %v, %v; want false, nil", eq, err)
	}
}

func TestValueArithmeticPromotion(t *testing.T) {
	sum, err := NewI64(2).Add(NewI64(3))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Type() != TypeI64 {
		t.Fatalf("int + int should stay integer, got %s", sum.Type())
	}
	i, _ := sum.AsI64()
	if i != 5 {
		t.Fatalf("2 + 3 = %d, want 5", i)
	}

	mixed, err := NewI64(2).Add(NewF64(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if mixed.Type() != TypeF64 {
		t.Fatalf("int + float should promote to float, got %s", mixed.Type())
	}
	f, _ := mixed.AsF64()
	if f != 2.5 {
		t.Fatalf("2 + 0.5 = %v, want 2.5", f)
	}
}

func TestValueCompareStrings(t *testing.T) {
	c, err := NewString("a").Compare(NewString("b"))
	if err != nil {
		t.Fatal(err)
	}
	if c != -1 {
		t.Fatalf("compare(a, b) = %d, want -1", c)
	}
}

func TestValueCompareIncompatible(t *testing.T) {
	if _, err := NewString("a").Compare(NewI64(1)); err == nil {
		t.Fatal("expected error comparing string to integer")
	}
}

func TestValueEncodeRoundTrip(t *testing.T) {
	v := NewString("hello")
	enc := v.Encode()
	decoded, n, err := DecodeValue(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d bytes, want %d", n, len(enc))
	}
	s, _ := decoded.AsString()
	if s != "hello" {
		t.Fatalf("decoded %q, want hello", s)
	}
}

func TestKeyOrdering(t *testing.T) {
	a := NewKey([]byte("apple"), 1)
	b := NewKey([]byte("apple"), 2)
	c := NewKey([]byte("banana"), 0)

	if a.Compare(b) >= 0 {
		t.Fatal("same user bytes should order by ascending txn id")
	}
	if a.Compare(c) >= 0 {
		t.Fatal("apple should sort before banana")
	}
	if !a.SameUserBytes(b) {
		t.Fatal("a and b share user bytes")
	}
}

func TestKeyEncodeRoundTrip(t *testing.T) {
	k := NewKey([]byte("row-1"), 42)
	enc := k.Encode()
	decoded, n, err := DecodeKey(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d bytes, want %d", n, len(enc))
	}
	if decoded.Compare(k) != 0 {
		t.Fatalf("decoded key %+v != original %+v", decoded, k)
	}
}

func TestIsTombstone(t *testing.T) {
	if !IsTombstone(nil) {
		t.Fatal("nil value should be a tombstone")
	}
	if IsTombstone([]byte{0}) {
		t.Fatal("non-empty value should not be a tombstone")
	}
}
