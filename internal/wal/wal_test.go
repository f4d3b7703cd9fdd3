package wal

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/vfs"
)

func TestWriterAddEntryAndReadEntries(t *testing.T) {
	fs := vfs.NewMockFs()
	w, err := Open(fs, "ks", 1, Strong)
	if err != nil {
		t.Fatal(err)
	}
	entries := []Entry{
		{Key: types.NewKey([]byte("a"), 1), Value: []byte("1")},
		{Key: types.NewKey([]byte("b"), 2), Value: []byte("2")},
		{Key: types.NewKey([]byte("c"), 3), Value: nil}, // tombstone
	}
	for _, e := range entries {
		if err := w.AddEntry(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var got []Entry
	err = ReadEntries(fs, "ks/"+Name(1), func(e Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Key.Compare(e.Key) != 0 {
			t.Fatalf("entry %d key mismatch: got %+v want %+v", i, got[i].Key, e.Key)
		}
		if string(got[i].Value) != string(e.Value) {
			t.Fatalf("entry %d value mismatch: got %q want %q", i, got[i].Value, e.Value)
		}
	}
}

func TestReadEntriesDetectsChecksumCorruption(t *testing.T) {
	fs := vfs.NewMockFs()
	w, err := Open(fs, "ks", 2, Weak)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddEntry(types.NewKey([]byte("x"), 1), []byte("y")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := afero.ReadFile(fs, "ks/"+Name(2))
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF // flip a bit in the checksum
	if err := afero.WriteFile(fs, "ks/"+Name(2), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	err = ReadEntries(fs, "ks/"+Name(2), func(Entry) error { return nil })
	if err == nil {
		t.Fatal("expected checksum decode error")
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
}

func TestDiscover(t *testing.T) {
	fs := vfs.NewMockFs()
	for _, id := range []uint64{3, 1, 2} {
		w, err := Open(fs, "ks", id, Weak)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := Discover(fs, "ks")
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}
