package eval

import (
	"testing"

	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/types"
)

func TestConstantFolding(t *testing.T) {
	expr := &parser.BinaryExpr{
		Op:    parser.OpAdd,
		Left:  &parser.LiteralExpr{Value: types.NewI64(1)},
		Right: &parser.LiteralExpr{Value: types.NewI64(2)},
	}
	folded := EvaluateConstantExpressions(expr)
	lit, ok := folded.(*parser.LiteralExpr)
	if !ok {
		t.Fatalf("expected folded literal, got %#v", folded)
	}
	n, _ := lit.Value.AsI64()
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestColumnReferenceBlocksFolding(t *testing.T) {
	expr := &parser.BinaryExpr{
		Op:    parser.OpAdd,
		Left:  &parser.ColumnRefExpr{Name: "x"},
		Right: &parser.LiteralExpr{Value: types.NewI64(2)},
	}
	folded := EvaluateConstantExpressions(expr)
	if _, ok := folded.(*parser.LiteralExpr); ok {
		t.Fatal("should not fold an expression containing a column reference")
	}
}

func TestNullPropagationOrTrue(t *testing.T) {
	// nombre == 'Jaime' OR id == 10, with nombre=NULL, id=10: OR short
	// circuits to true even though the left side is null, per spec.md §8
	// scenario 5.
	expr := &parser.BinaryExpr{
		Op: parser.OpOr,
		Left: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRefExpr{Name: "nombre"},
			Right: &parser.LiteralExpr{Value: types.NewString("Jaime")},
		},
		Right: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRefExpr{Name: "id"},
			Right: &parser.LiteralExpr{Value: types.NewI64(10)},
		},
	}
	lookup := func(name string) (types.Value, bool) {
		switch name {
		case "nombre":
			return types.Null, true
		case "id":
			return types.NewI64(10), true
		}
		return types.Value{}, false
	}
	ok, err := EvaluateWhereExpression(expr, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected OR with one true operand to be true despite null sibling")
	}
}

func TestNullPropagationAndFalse(t *testing.T) {
	expr := &parser.BinaryExpr{
		Op: parser.OpAnd,
		Left: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRefExpr{Name: "nombre"},
			Right: &parser.LiteralExpr{Value: types.NewString("Jaime")},
		},
		Right: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRefExpr{Name: "id"},
			Right: &parser.LiteralExpr{Value: types.NewI64(10)},
		},
	}
	lookup := func(name string) (types.Value, bool) {
		switch name {
		case "nombre":
			return types.Null, true
		case "id":
			return types.NewI64(10), true
		}
		return types.Value{}, false
	}
	ok, err := EvaluateWhereExpression(expr, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected AND with a null operand and no false operand to not pass WHERE")
	}
}

func TestEqualNullNullIsTrue(t *testing.T) {
	expr := &parser.BinaryExpr{
		Op:    parser.OpEq,
		Left:  &parser.LiteralExpr{Value: types.Null},
		Right: &parser.LiteralExpr{Value: types.Null},
	}
	v, err := EvaluateExpression(expr, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.AsBoolean()
	if err != nil || !b {
		t.Fatalf("expected equal(null, null) = true, got %v err=%v", v, err)
	}
}
