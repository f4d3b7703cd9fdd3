package analyzer

import (
	"testing"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/types"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	if _, err := s.AddColumn("id", types.TypeI64, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddColumn("x", types.TypeI64, false); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachSecondaryIndex("x", 42); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRangeAndOnPrimaryIntersects(t *testing.T) {
	s := testSchema(t)
	stmt, err := parser.Parse("SELECT * FROM t WHERE id >= 10 AND id <= 20")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*parser.SelectStatement)
	scan, err := Analyze(sel.Where, s)
	if err != nil {
		t.Fatal(err)
	}
	if scan.Kind != Range || scan.Column != "id" {
		t.Fatalf("expected Range(id), got %#v", scan)
	}
	lo, _ := scan.Start.AsI64()
	hi, _ := scan.End.AsI64()
	if lo != 10 || hi != 20 || !scan.StartInclusive || !scan.EndInclusive {
		t.Fatalf("expected [10,20] inclusive, got [%d,%d] inc=%v,%v", lo, hi, scan.StartInclusive, scan.EndInclusive)
	}
}

func TestExactPrimaryOrExactPrimaryIsMergeUnion(t *testing.T) {
	s := testSchema(t)
	stmt, err := parser.Parse("SELECT * FROM t WHERE id == 1 OR id == 2")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*parser.SelectStatement)
	scan, err := Analyze(sel.Where, s)
	if err != nil {
		t.Fatal(err)
	}
	if scan.Kind != MergeUnion {
		t.Fatalf("expected MergeUnion, got %#v", scan)
	}
}

func TestExactPrimaryAndExactPrimaryDistinctIsInfeasible(t *testing.T) {
	s := testSchema(t)
	stmt, err := parser.Parse("SELECT * FROM t WHERE id == 1 AND id == 2")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*parser.SelectStatement)
	if _, err := Analyze(sel.Where, s); err == nil {
		t.Fatal("expected infeasible error for id==1 AND id==2")
	}
}

func TestExactSecondaryEquality(t *testing.T) {
	s := testSchema(t)
	stmt, err := parser.Parse("SELECT * FROM t WHERE x == 5")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*parser.SelectStatement)
	scan, err := Analyze(sel.Where, s)
	if err != nil {
		t.Fatal(err)
	}
	if scan.Kind != ExactSecondary || scan.Column != "x" {
		t.Fatalf("expected ExactSecondary(x), got %#v", scan)
	}
}

func TestFullScanFallback(t *testing.T) {
	s := testSchema(t)
	stmt, err := parser.Parse("SELECT * FROM t WHERE id != 1")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*parser.SelectStatement)
	scan, err := Analyze(sel.Where, s)
	if err != nil {
		t.Fatal(err)
	}
	if scan.Kind != Full {
		t.Fatalf("expected Full for an inequality comparison, got %#v", scan)
	}
}
