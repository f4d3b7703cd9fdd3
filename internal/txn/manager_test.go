package txn

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestManager(t *testing.T) (*Manager, afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/root/transaction-log"
	log, err := OpenLog(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(log, true), fs, path
}

func TestStartCommitVisibility(t *testing.T) {
	m, _, _ := newTestManager(t)

	t1 := m.Start(SnapshotIsolation)
	t2 := m.Start(SnapshotIsolation)

	if !t2.CanRead(t2.TxnID) {
		t.Fatal("transaction should always read its own writes")
	}
	if t2.CanRead(t1.TxnID) {
		t.Fatal("t2 should not see t1's uncommitted write: t1 was active at t2's start")
	}

	if err := m.Commit(t1); err != nil {
		t.Fatal(err)
	}

	t3 := m.Start(SnapshotIsolation)
	if !t3.CanRead(t1.TxnID) {
		t.Fatal("t3, started after t1 committed, should see t1's write")
	}
}

func TestRollbackTracksWrites(t *testing.T) {
	m, _, _ := newTestManager(t)
	tx := m.Start(SnapshotIsolation)
	if err := m.MarkWrite(tx); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkWrite(tx); err != nil {
		t.Fatal(err)
	}
	if err := m.Rollback(tx); err != nil {
		t.Fatal(err)
	}
	if !m.IsRolledBack(tx.TxnID) {
		t.Fatal("expected txn to be pending rollback completion")
	}

	discard, err := m.OnWriteKey(tx.TxnID)
	if err != nil || !discard {
		t.Fatalf("expected first OnWriteKey to discard, got discard=%v err=%v", discard, err)
	}
	if !m.IsRolledBack(tx.TxnID) {
		t.Fatal("one pending write remains, should still be rolled back")
	}
	discard, err = m.OnWriteKey(tx.TxnID)
	if err != nil || !discard {
		t.Fatal("expected second OnWriteKey to discard")
	}
	if m.IsRolledBack(tx.TxnID) {
		t.Fatal("all pending writes discarded, txn should no longer be tracked")
	}
}

func TestRecoveryReplaysLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/root/transaction-log"
	log, err := OpenLog(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(log, true)
	t1 := m.Start(SnapshotIsolation)
	_ = m.MarkWrite(t1)
	_ = m.Commit(t1)

	t2 := m.Start(SnapshotIsolation)
	_ = m.MarkWrite(t2)
	_ = m.Rollback(t2)
	_ = log.Close()

	records, err := ReadAll(fs, path)
	if err != nil {
		t.Fatal(err)
	}

	log2, err := OpenLog(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	recovered := Recover(log2, records, true)
	if recovered.IsActive(t1.TxnID) {
		t.Fatal("t1 committed, should not be active after recovery")
	}
	if !recovered.IsRolledBack(t2.TxnID) {
		t.Fatal("t2 rolled back with a pending write, should be tracked after recovery")
	}
}
