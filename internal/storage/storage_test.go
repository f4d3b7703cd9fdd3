package storage

import (
	"testing"

	"github.com/return2faye/siltsql/internal/txn"
)

func TestSnapshotIsolationEndToEnd(t *testing.T) {
	s, err := Mock()
	if err != nil {
		t.Fatal(err)
	}
	ksID, err := s.CreateKeyspace(CreateKeyspaceFlags{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	t1 := s.StartTransaction(txn.SnapshotIsolation)
	t2 := s.StartTransaction(txn.SnapshotIsolation)

	if err := s.Set(ksID, []byte("k"), []byte("v1"), t1); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(t1); err != nil {
		t.Fatal(err)
	}

	if _, found, _ := s.Get(ksID, []byte("k"), t2); found {
		t.Fatal("t2 started before t1 committed, should not see v1")
	}

	t3 := s.StartTransaction(txn.SnapshotIsolation)
	v, found, err := s.Get(ksID, []byte("k"), t3)
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(v) != "v1" {
		t.Fatalf("t3 started after commit, expected to read v1, got %q found=%v", v, found)
	}
}

func TestRolledBackWritesNeverVisible(t *testing.T) {
	s, err := Mock()
	if err != nil {
		t.Fatal(err)
	}
	ksID, err := s.CreateKeyspace(CreateKeyspaceFlags{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tx := s.StartTransaction(txn.SnapshotIsolation)
	if err := s.Set(ksID, []byte("a"), []byte("1"), tx); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ksID, []byte("b"), []byte("2"), tx); err != nil {
		t.Fatal(err)
	}
	if err := s.Rollback(tx); err != nil {
		t.Fatal(err)
	}

	reader := s.StartTransaction(txn.SnapshotIsolation)
	if _, found, _ := s.Get(ksID, []byte("a"), reader); found {
		t.Fatal("rolled-back write for key a should never be visible")
	}
	if _, found, _ := s.Get(ksID, []byte("b"), reader); found {
		t.Fatal("rolled-back write for key b should never be visible")
	}
}
