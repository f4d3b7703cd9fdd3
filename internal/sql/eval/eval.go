// Package eval implements the expression evaluator described in
// spec.md §4.15: constant folding, tri-valued-null expression evaluation,
// and the WHERE-clause boolean gate.
package eval

import (
	"fmt"

	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/types"
)

// ColumnLookup resolves a column name to its value for the row currently
// being evaluated; ok is false if the column is not part of the
// projection the row was built from.
type ColumnLookup func(name string) (types.Value, bool)

// EvaluateConstantExpressions folds any subtree whose leaves are all
// literals into a single LiteralExpr, per spec.md §4.15. Subtrees
// containing a column reference are left untouched.
func EvaluateConstantExpressions(expr parser.Expression) parser.Expression {
	switch e := expr.(type) {
	case *parser.LiteralExpr, *parser.ColumnRefExpr:
		return expr
	case *parser.UnaryExpr:
		operand := EvaluateConstantExpressions(e.Operand)
		lit, ok := operand.(*parser.LiteralExpr)
		if !ok {
			return &parser.UnaryExpr{Op: e.Op, Operand: operand}
		}
		v, err := evalUnary(e.Op, lit.Value)
		if err != nil {
			return &parser.UnaryExpr{Op: e.Op, Operand: operand}
		}
		return &parser.LiteralExpr{Value: v}
	case *parser.BinaryExpr:
		left := EvaluateConstantExpressions(e.Left)
		right := EvaluateConstantExpressions(e.Right)
		llit, lok := left.(*parser.LiteralExpr)
		rlit, rok := right.(*parser.LiteralExpr)
		if !lok || !rok {
			return &parser.BinaryExpr{Op: e.Op, Left: left, Right: right}
		}
		v, err := evalBinaryWithNull(e.Op, llit.Value, rlit.Value)
		if err != nil {
			return &parser.BinaryExpr{Op: e.Op, Left: left, Right: right}
		}
		return &parser.LiteralExpr{Value: v}
	default:
		return expr
	}
}

// EvaluateExpression returns a literal value for expr against the row
// resolved by lookup, propagating null through arithmetic and
// non-equality comparison per spec.md §4.15.
func EvaluateExpression(expr parser.Expression, lookup ColumnLookup) (types.Value, error) {
	switch e := expr.(type) {
	case *parser.LiteralExpr:
		return e.Value, nil
	case *parser.ColumnRefExpr:
		v, ok := lookup(e.Name)
		if !ok {
			return types.Value{}, fmt.Errorf("eval: unknown column %q", e.Name)
		}
		return v, nil
	case *parser.UnaryExpr:
		v, err := EvaluateExpression(e.Operand, lookup)
		if err != nil {
			return types.Value{}, err
		}
		if v.IsNull() {
			return types.Null, nil
		}
		return evalUnary(e.Op, v)
	case *parser.BinaryExpr:
		left, err := EvaluateExpression(e.Left, lookup)
		if err != nil {
			return types.Value{}, err
		}
		right, err := EvaluateExpression(e.Right, lookup)
		if err != nil {
			return types.Value{}, err
		}
		return evalBinaryWithNull(e.Op, left, right)
	default:
		return types.Value{}, fmt.Errorf("eval: unsupported expression %T", expr)
	}
}

// EvaluateWhereExpression evaluates expr and treats a null result (or any
// non-boolean result) as false, per spec.md §4.15.
func EvaluateWhereExpression(expr parser.Expression, lookup ColumnLookup) (bool, error) {
	v, err := EvaluateExpression(expr, lookup)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	b, err := v.AsBoolean()
	if err != nil {
		return false, nil
	}
	return b, nil
}

func evalUnary(op parser.UnaryOp, v types.Value) (types.Value, error) {
	switch op {
	case parser.OpPos:
		if !v.Type().IsNumber() {
			return types.Value{}, fmt.Errorf("%w: unary + requires a number", types.ErrIllegalOperation)
		}
		return v, nil
	case parser.OpNeg:
		return types.NewI64(0).Subtract(v)
	case parser.OpNot:
		b, err := v.AsBoolean()
		if err != nil {
			return types.Value{}, err
		}
		return types.NewBoolean(!b), nil
	default:
		return types.Value{}, fmt.Errorf("eval: unknown unary operator %d", op)
	}
}

// evalBinaryWithNull applies spec.md §4.15's tri-valued semantics: AND/OR
// use standard three-valued logic, equality treats (null,null) as true
// and any other null operand as null, every other comparison and all
// arithmetic propagate null unconditionally.
func evalBinaryWithNull(op parser.BinaryOp, left, right types.Value) (types.Value, error) {
	switch op {
	case parser.OpAnd:
		return evalTriAnd(left, right)
	case parser.OpOr:
		return evalTriOr(left, right)
	case parser.OpEq:
		if left.IsNull() && right.IsNull() {
			return types.NewBoolean(true), nil
		}
		if left.IsNull() || right.IsNull() {
			return types.Null, nil
		}
		eq, err := left.Equal(right)
		if err != nil {
			return types.Value{}, err
		}
		return types.NewBoolean(eq), nil
	default:
		if left.IsNull() || right.IsNull() {
			return types.Null, nil
		}
		return evalBinary(op, left, right)
	}
}

func evalTriAnd(left, right types.Value) (types.Value, error) {
	lf, lNull := falseOrNull(left)
	rf, rNull := falseOrNull(right)
	if (!lNull && lf) || (!rNull && rf) {
		return types.NewBoolean(false), nil
	}
	if lNull || rNull {
		return types.Null, nil
	}
	lb, err := left.AsBoolean()
	if err != nil {
		return types.Value{}, err
	}
	rb, err := right.AsBoolean()
	if err != nil {
		return types.Value{}, err
	}
	return types.NewBoolean(lb && rb), nil
}

func evalTriOr(left, right types.Value) (types.Value, error) {
	lt, lNull := trueOrNull(left)
	rt, rNull := trueOrNull(right)
	if (!lNull && lt) || (!rNull && rt) {
		return types.NewBoolean(true), nil
	}
	if lNull || rNull {
		return types.Null, nil
	}
	lb, err := left.AsBoolean()
	if err != nil {
		return types.Value{}, err
	}
	rb, err := right.AsBoolean()
	if err != nil {
		return types.Value{}, err
	}
	return types.NewBoolean(lb || rb), nil
}

func falseOrNull(v types.Value) (isFalse, isNull bool) {
	if v.IsNull() {
		return false, true
	}
	b, err := v.AsBoolean()
	return err == nil && !b, false
}

func trueOrNull(v types.Value) (isTrue, isNull bool) {
	if v.IsNull() {
		return false, true
	}
	b, err := v.AsBoolean()
	return err == nil && b, false
}

// evalBinary evaluates op over two non-null operands. Integer ⊕ integer
// stays integer; any floating-point operand promotes the result to
// floating point; string comparisons are lexicographic; booleans only
// participate in AND/OR/=/≠, per spec.md §4.15.
func evalBinary(op parser.BinaryOp, left, right types.Value) (types.Value, error) {
	switch op {
	case parser.OpAdd:
		return left.Add(right)
	case parser.OpSub:
		return left.Subtract(right)
	case parser.OpMul:
		return left.Multiply(right)
	case parser.OpDiv:
		return left.Divide(right)
	case parser.OpNeq:
		eq, err := left.Equal(right)
		if err != nil {
			return types.Value{}, err
		}
		return types.NewBoolean(!eq), nil
	case parser.OpLt, parser.OpLte, parser.OpGt, parser.OpGte:
		c, err := left.Compare(right)
		if err != nil {
			return types.Value{}, err
		}
		switch op {
		case parser.OpLt:
			return types.NewBoolean(c < 0), nil
		case parser.OpLte:
			return types.NewBoolean(c <= 0), nil
		case parser.OpGt:
			return types.NewBoolean(c > 0), nil
		default:
			return types.NewBoolean(c >= 0), nil
		}
	default:
		return types.Value{}, fmt.Errorf("eval: unknown binary operator %d", op)
	}
}
