package parser

import "testing"

func TestParseSelectWhereAndOrderLimit(t *testing.T) {
	stmt, err := Parse("SELECT id, x FROM t WHERE id >= 10 AND id <= 20 ORDER BY x DESC LIMIT 10;")
	if err != nil {
		t.Fatal(err)
	}
	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected *SelectStatement, got %T", stmt)
	}
	if len(sel.Columns) != 2 || sel.Columns[0] != "id" || sel.Columns[1] != "x" {
		t.Fatalf("unexpected columns: %v", sel.Columns)
	}
	if sel.Table != "t" {
		t.Fatalf("unexpected table: %s", sel.Table)
	}
	bin, ok := sel.Where.(*BinaryExpr)
	if !ok || bin.Op != OpAnd {
		t.Fatalf("expected top-level AND, got %#v", sel.Where)
	}
	if !sel.Desc || sel.OrderBy != "x" {
		t.Fatalf("expected ORDER BY x DESC, got %s desc=%v", sel.OrderBy, sel.Desc)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Fatalf("expected LIMIT 10, got %v", sel.Limit)
	}
}

func TestOperatorPrecedence(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t WHERE a == 1 OR b == 2 AND c == 3")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*SelectStatement)
	top, ok := sel.Where.(*BinaryExpr)
	if !ok || top.Op != OpOr {
		t.Fatalf("expected top-level OR (lowest precedence), got %#v", sel.Where)
	}
	right, ok := top.Right.(*BinaryExpr)
	if !ok || right.Op != OpAnd {
		t.Fatalf("expected AND nested under OR's right side, got %#v", top.Right)
	}
}

func TestArithmeticPrecedenceAndUnary(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t WHERE x == 1 + 2 * -3")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*SelectStatement)
	eq := sel.Where.(*BinaryExpr)
	if eq.Op != OpEq {
		t.Fatalf("expected ==, got %v", eq.Op)
	}
	add := eq.Right.(*BinaryExpr)
	if add.Op != OpAdd {
		t.Fatalf("expected + to bind loosest among arithmetic, got %v", add.Op)
	}
	mul := add.Right.(*BinaryExpr)
	if mul.Op != OpMul {
		t.Fatalf("expected * nested under +, got %v", mul.Op)
	}
	neg := mul.Right.(*UnaryExpr)
	if neg.Op != OpNeg {
		t.Fatalf("expected unary - bound to literal 3, got %#v", mul.Right)
	}
}

func TestCreateTableWithPrimaryKey(t *testing.T) {
	stmt, err := Parse("CREATE TABLE t (id I64 PRIMARY KEY, x I64)")
	if err != nil {
		t.Fatal(err)
	}
	ct := stmt.(*CreateTableStatement)
	if len(ct.Columns) != 2 || !ct.Columns[0].IsPrimary || ct.Columns[1].IsPrimary {
		t.Fatalf("unexpected columns: %#v", ct.Columns)
	}
}

func TestShowTables(t *testing.T) {
	stmt, err := Parse("SHOW TABLES")
	if err != nil {
		t.Fatal(err)
	}
	show := stmt.(*ShowStatement)
	if show.Kind != ShowTables {
		t.Fatalf("expected ShowTables, got %v", show.Kind)
	}
}

func TestKeywordPrefixRollsBackToIdentifier(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t WHERE selected == 1")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*SelectStatement)
	bin := sel.Where.(*BinaryExpr)
	ref, ok := bin.Left.(*ColumnRefExpr)
	if !ok || ref.Name != "selected" {
		t.Fatalf("expected identifier 'selected' despite SELECT keyword prefix, got %#v", bin.Left)
	}
}
