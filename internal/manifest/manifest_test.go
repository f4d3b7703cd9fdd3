package manifest

import (
	"testing"

	"github.com/spf13/afero"
)

func TestAppendAndPending(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/ks/MANIFEST"
	m, err := Open(fs, path, 1)
	if err != nil {
		t.Fatal(err)
	}

	id1, err := m.AppendOperation(Content{Kind: KindMemtableFlush, MemtableFlush: &MemtableFlush{MemtableID: 1, SSTableID: 10}})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := m.AppendOperation(Content{Kind: KindCompaction, Compaction: &CompactionTask{InputSSTableIDs: []uint64{10, 11}, OutputLevel: 1, OutputSSTableID: 20}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkCompleted(id1); err != nil {
		t.Fatal(err)
	}
	_ = m.Close()

	records, err := ReadAll(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	pending := Pending(records)
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Fatalf("expected only id2 pending, got %+v", pending)
	}
}

func TestRewriteCompactsLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/ks/MANIFEST"
	m, err := Open(fs, path, 1)
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.AppendOperation(Content{Kind: KindMemtableFlush, MemtableFlush: &MemtableFlush{MemtableID: 1, SSTableID: 10}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkCompleted(id); err != nil {
		t.Fatal(err)
	}

	if err := m.Rewrite(nil); err != nil {
		t.Fatal(err)
	}
	_ = m.Close()

	records, err := ReadAll(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected rewrite to leave an empty log, got %d records", len(records))
	}
}
