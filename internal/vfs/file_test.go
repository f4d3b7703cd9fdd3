package vfs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestFileWriteReadAll(t *testing.T) {
	fs := NewMockFs()
	f, err := Open(fs, "data.bin", ModeAppendOnly)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	got, err := f.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "helloworld" {
		t.Fatalf("got %q", got)
	}
}

func TestFileReadOnlyRejectsWrite(t *testing.T) {
	fs := NewMockFs()
	if err := afero.WriteFile(fs, "ro.bin", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(fs, "ro.bin", ModeReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("y")); err != ErrReadOnly {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
}

func TestSafeReplace(t *testing.T) {
	fs := NewMockFs()
	f, err := Open(fs, "manifest", ModeRandom)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := f.SafeReplace([]byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := f.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Fatalf("got %q, want v2", got)
	}
	if exists, _ := afero.Exists(fs, "manifest.safe"); exists {
		t.Fatal(".safe sibling should be removed after a successful replace")
	}
}

func TestOpenRecoversFromSafeSibling(t *testing.T) {
	fs := NewMockFs()
	// Simulate a crash mid-SafeReplace: primary already truncated/rewritten
	// but the .safe backup was never deleted.
	if err := afero.WriteFile(fs, "manifest", []byte("corrupted-partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "manifest.safe", []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(fs, "manifest", ModeRandom)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q, want recovered v1", got)
	}
	if exists, _ := afero.Exists(fs, "manifest.safe"); exists {
		t.Fatal(".safe sibling should be removed after recovery")
	}
}
