package catalog

import (
	"testing"

	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
)

func newTestTable(t *testing.T) (*Database, *Table) {
	t.Helper()
	s, err := storage.Mock()
	if err != nil {
		t.Fatal(err)
	}
	db := NewDatabase("test", s)
	tbl, err := db.CreateTable(&parser.CreateTableStatement{
		Table: "widgets",
		Columns: []parser.ColumnDef{
			{Name: "id", Type: types.TypeI64, IsPrimary: true},
			{Name: "name", Type: types.TypeString},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return db, tbl
}

func TestInsertAndGetRoundTrips(t *testing.T) {
	_, tbl := newTestTable(t)
	s := tbl.storage
	tx := s.StartTransaction(txn.SnapshotIsolation)

	if err := tbl.Insert(tx, map[string]types.Value{
		"id":   types.NewI64(1),
		"name": types.NewString("widget-a"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := s.StartTransaction(txn.SnapshotIsolation)
	row, found, err := tbl.Get(tx2, types.NewI64(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected row to be found")
	}
	nameCol, _ := tbl.Schema.Column("name")
	v, ok := row.Record.Get(nameCol.ID)
	if !ok || v.String() != "widget-a" {
		t.Fatalf("unexpected name value: %+v ok=%v", v, ok)
	}
}

func TestUpdateMergesColumnSparsePatch(t *testing.T) {
	_, tbl := newTestTable(t)
	s := tbl.storage
	tx := s.StartTransaction(txn.SnapshotIsolation)
	if err := tbl.Insert(tx, map[string]types.Value{
		"id":   types.NewI64(7),
		"name": types.NewString("before"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := s.StartTransaction(txn.SnapshotIsolation)
	if err := tbl.Update(tx2, types.NewI64(7), map[string]types.Value{"name": types.NewString("after")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(tx2); err != nil {
		t.Fatal(err)
	}

	tx3 := s.StartTransaction(txn.SnapshotIsolation)
	row, found, err := tbl.Get(tx3, types.NewI64(7), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected row to survive update")
	}
	nameCol, _ := tbl.Schema.Column("name")
	v, _ := row.Record.Get(nameCol.ID)
	if v.String() != "after" {
		t.Fatalf("expected merged name 'after', got %q", v.String())
	}
}

func TestDeleteRemovesRowAndPostings(t *testing.T) {
	db, tbl := newTestTable(t)
	if err := db.CreateIndex(&parser.CreateIndexStatement{Table: "widgets", Column: "name"}); err != nil {
		t.Fatal(err)
	}
	s := tbl.storage

	tx := s.StartTransaction(txn.SnapshotIsolation)
	if err := tbl.Insert(tx, map[string]types.Value{
		"id":   types.NewI64(3),
		"name": types.NewString("gizmo"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(tx); err != nil {
		t.Fatal(err)
	}

	pl := tbl.postings["name"]
	tx2 := s.StartTransaction(txn.SnapshotIsolation)
	hits, err := pl.Scan(tx2, []byte("gizmo"))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one posting before delete, got %d", len(hits))
	}

	if err := tbl.Delete(tx2, types.NewI64(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(tx2); err != nil {
		t.Fatal(err)
	}

	tx3 := s.StartTransaction(txn.SnapshotIsolation)
	_, found, err := tbl.Get(tx3, types.NewI64(3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected row to be gone after delete")
	}
	hitsAfter, err := pl.Scan(tx3, []byte("gizmo"))
	if err != nil {
		t.Fatal(err)
	}
	if len(hitsAfter) != 0 {
		t.Fatalf("expected posting to be removed, got %d", len(hitsAfter))
	}
}

func TestScanAllReassemblesEveryRow(t *testing.T) {
	_, tbl := newTestTable(t)
	s := tbl.storage
	tx := s.StartTransaction(txn.SnapshotIsolation)
	for i := int64(0); i < 5; i++ {
		if err := tbl.Insert(tx, map[string]types.Value{
			"id":   types.NewI64(i),
			"name": types.NewString("row"),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := s.StartTransaction(txn.SnapshotIsolation)
	it, err := tbl.ScanAll(tx2)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 5 {
		t.Fatalf("expected 5 rows, got %d", n)
	}
}

func TestDatabaseDDLIntrospection(t *testing.T) {
	db, _ := newTestTable(t)
	if err := db.CreateIndex(&parser.CreateIndexStatement{Table: "widgets", Column: "name"}); err != nil {
		t.Fatal(err)
	}
	names := db.TableNames()
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("unexpected table names: %v", names)
	}
	idx, err := db.IndexNames("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(idx) != 1 || idx[0] != "name" {
		t.Fatalf("unexpected index names: %v", idx)
	}
	cols, err := db.Describe("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 || cols[0].Name != "id" || cols[1].Name != "name" {
		t.Fatalf("unexpected describe output: %+v", cols)
	}

	cat := NewCatalog(db.storage)
	got := cat.UseDatabase("test")
	if got != cat.UseDatabase("test") {
		t.Fatal("expected UseDatabase to return the same instance on repeat calls")
	}
	if dbs := cat.DatabaseNames(); len(dbs) != 1 || dbs[0] != "test" {
		t.Fatalf("unexpected database names: %v", dbs)
	}
}
