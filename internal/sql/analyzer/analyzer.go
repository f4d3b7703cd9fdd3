// Package analyzer implements the scan-type analyzer described in
// spec.md §4.16: it lowers a WHERE expression and a table schema into the
// scan lattice the planner turns into plan steps.
package analyzer

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/types"
)

// ErrInfeasible is returned when an AND combines two scans that can never
// both be satisfied (e.g. two different ExactPrimary values, or disjoint
// ranges on the same column).
var ErrInfeasible = errors.New("analyzer: infeasible predicate")

type Kind uint8

const (
	Full Kind = iota
	ExactPrimary
	ExactSecondary
	Range
	MergeUnion
	MergeIntersection
)

// Scan is one node of the scan lattice spec.md §4.16 defines. Column
// names are resolved, not yet column ids, so the planner can still
// report EXPLAIN output in terms a user typed.
type Scan struct {
	Kind   Kind
	Column string // ExactSecondary, Range
	Value  types.Value

	Start          *types.Value
	End            *types.Value
	StartInclusive bool
	EndInclusive   bool

	Left, Right *Scan

	// Residual holds the original boolean expression when Kind is
	// MergeIntersection but the combination is really spec.md §9 Open
	// Question (c)'s "ConditionalMerge" (an intersection whose rows still
	// need per-row residual filtering because the ranges don't align on
	// a common column). Per that note this repo treats ConditionalMerge
	// as MergeIntersection plus a residual predicate rather than as a
	// distinct lattice member.
	Residual parser.Expression
}

// Analyze lowers expr (already constant-folded) into a Scan using tbl's
// primary/secondary column layout.
func Analyze(expr parser.Expression, tbl *schema.Schema) (*Scan, error) {
	if expr == nil {
		return &Scan{Kind: Full}, nil
	}
	switch e := expr.(type) {
	case *parser.BinaryExpr:
		switch e.Op {
		case parser.OpAnd:
			left, err := Analyze(e.Left, tbl)
			if err != nil {
				return nil, err
			}
			right, err := Analyze(e.Right, tbl)
			if err != nil {
				return nil, err
			}
			return combine(left, right, true, expr)
		case parser.OpOr:
			left, err := Analyze(e.Left, tbl)
			if err != nil {
				return nil, err
			}
			right, err := Analyze(e.Right, tbl)
			if err != nil {
				return nil, err
			}
			return combine(left, right, false, expr)
		default:
			return baseCase(e, tbl)
		}
	default:
		return &Scan{Kind: Full}, nil
	}
}

// baseCase handles a single comparison between an identifier and a
// literal, per spec.md §4.16's base cases.
func baseCase(e *parser.BinaryExpr, tbl *schema.Schema) (*Scan, error) {
	col, lit, op, ok := splitColumnLiteral(e)
	if !ok {
		return &Scan{Kind: Full}, nil
	}
	column, found := tbl.Column(col.Name)
	if !found {
		return &Scan{Kind: Full}, nil
	}

	switch op {
	case parser.OpEq:
		if column.IsPrimary {
			return &Scan{Kind: ExactPrimary, Value: lit.Value}, nil
		}
		if column.SecondaryIndexKeyspaceID != nil {
			return &Scan{Kind: ExactSecondary, Column: column.Name, Value: lit.Value}, nil
		}
		return &Scan{Kind: Full}, nil
	case parser.OpGt, parser.OpGte, parser.OpLt, parser.OpLte:
		if !column.IsPrimary {
			return &Scan{Kind: Full}, nil
		}
		s := &Scan{Kind: Range, Column: column.Name}
		switch op {
		case parser.OpGt:
			s.Start, s.StartInclusive = &lit.Value, false
		case parser.OpGte:
			s.Start, s.StartInclusive = &lit.Value, true
		case parser.OpLt:
			s.End, s.EndInclusive = &lit.Value, false
		case parser.OpLte:
			s.End, s.EndInclusive = &lit.Value, true
		}
		return s, nil
	default:
		return &Scan{Kind: Full}, nil
	}
}

// splitColumnLiteral normalizes `col op lit` and `lit op col` to the
// former, flipping the operator's direction for the latter.
func splitColumnLiteral(e *parser.BinaryExpr) (*parser.ColumnRefExpr, *parser.LiteralExpr, parser.BinaryOp, bool) {
	if col, ok := e.Left.(*parser.ColumnRefExpr); ok {
		if lit, ok := e.Right.(*parser.LiteralExpr); ok {
			return col, lit, e.Op, true
		}
	}
	if lit, ok := e.Left.(*parser.LiteralExpr); ok {
		if col, ok := e.Right.(*parser.ColumnRefExpr); ok {
			return col, lit, flip(e.Op), true
		}
	}
	return nil, nil, 0, false
}

func flip(op parser.BinaryOp) parser.BinaryOp {
	switch op {
	case parser.OpGt:
		return parser.OpLt
	case parser.OpGte:
		return parser.OpLte
	case parser.OpLt:
		return parser.OpGt
	case parser.OpLte:
		return parser.OpGte
	default:
		return op
	}
}

// combine applies the symmetric AND/OR combinator table from spec.md
// §4.16. original is the source expression, carried along so a
// ConditionalMerge result can hold it as a residual filter.
func combine(a, b *Scan, isAnd bool, original parser.Expression) (*Scan, error) {
	if a.Kind == Full && b.Kind == Full {
		return &Scan{Kind: Full}, nil
	}
	if a.Kind == Full {
		if isAnd {
			return b, nil
		}
		return &Scan{Kind: Full}, nil
	}
	if b.Kind == Full {
		if isAnd {
			return a, nil
		}
		return &Scan{Kind: Full}, nil
	}

	if !isAnd {
		return &Scan{Kind: MergeUnion, Left: a, Right: b}, nil
	}

	// isAnd and neither side is Full.
	switch {
	case a.Kind == ExactPrimary && b.Kind == ExactPrimary:
		eq, err := a.Value.Equal(b.Value)
		if err != nil {
			return nil, err
		}
		if !eq {
			return nil, fmt.Errorf("%w: two distinct primary-key equalities under AND", ErrInfeasible)
		}
		return a, nil

	case a.Kind == ExactPrimary || b.Kind == ExactPrimary:
		exact, other := a, b
		if b.Kind == ExactPrimary {
			exact, other = b, a
		}
		// The analyzer only ever emits Range for the primary column (see
		// baseCase), so ExactPrimary × Range here is always ExactPrimary ×
		// Range(primary), the table's third row.
		if other.Kind == ExactSecondary || other.Kind == Range {
			return exact, nil
		}
		return &Scan{Kind: MergeIntersection, Left: a, Right: b, Residual: original}, nil

	case a.Kind == ExactSecondary && b.Kind == ExactSecondary:
		if a.Column == b.Column {
			eq, err := a.Value.Equal(b.Value)
			if err != nil {
				return nil, err
			}
			if !eq {
				return nil, fmt.Errorf("%w: two distinct equalities on secondary column %s under AND", ErrInfeasible, a.Column)
			}
			return a, nil
		}
		return &Scan{Kind: MergeIntersection, Left: a, Right: b, Residual: original}, nil

	case a.Kind == ExactSecondary || b.Kind == ExactSecondary:
		exact, other := a, b
		if b.Kind == ExactSecondary {
			exact, other = b, a
		}
		if other.Kind == Range {
			return exact, nil
		}
		return &Scan{Kind: MergeIntersection, Left: a, Right: b, Residual: original}, nil

	case a.Kind == Range && b.Kind == Range:
		if a.Column == b.Column {
			merged, err := intersectRanges(a, b)
			if err != nil {
				return nil, err
			}
			return merged, nil
		}
		// Range on two different columns: a ConditionalMerge, modeled per
		// spec.md §9 Open Question (c) as a MergeIntersection carrying the
		// original AND expression as a residual filter.
		return &Scan{Kind: MergeIntersection, Left: a, Right: b, Residual: original}, nil

	default:
		// At least one side is itself a Merge* node: propagates as
		// ConditionalMerge under AND.
		return &Scan{Kind: MergeIntersection, Left: a, Right: b, Residual: original}, nil
	}
}

// intersectRanges narrows two ranges over the same column to their
// overlap, erroring if they are disjoint.
func intersectRanges(a, b *Scan) (*Scan, error) {
	out := &Scan{Kind: Range, Column: a.Column}
	out.Start, out.StartInclusive = tighterLowerBound(a.Start, a.StartInclusive, b.Start, b.StartInclusive)
	out.End, out.EndInclusive = tighterUpperBound(a.End, a.EndInclusive, b.End, b.EndInclusive)
	if out.Start != nil && out.End != nil {
		c, err := out.Start.Compare(*out.End)
		if err != nil {
			return nil, err
		}
		if c > 0 || (c == 0 && !(out.StartInclusive && out.EndInclusive)) {
			return nil, fmt.Errorf("%w: disjoint ranges on column %s", ErrInfeasible, a.Column)
		}
	}
	return out, nil
}

func tighterLowerBound(a *types.Value, aInc bool, b *types.Value, bInc bool) (*types.Value, bool) {
	if a == nil {
		return b, bInc
	}
	if b == nil {
		return a, aInc
	}
	c, err := a.Compare(*b)
	if err != nil {
		return a, aInc
	}
	switch {
	case c > 0:
		return a, aInc
	case c < 0:
		return b, bInc
	default:
		return a, aInc && bInc
	}
}

func tighterUpperBound(a *types.Value, aInc bool, b *types.Value, bInc bool) (*types.Value, bool) {
	if a == nil {
		return b, bInc
	}
	if b == nil {
		return a, aInc
	}
	c, err := a.Compare(*b)
	if err != nil {
		return a, aInc
	}
	switch {
	case c < 0:
		return a, aInc
	case c > 0:
		return b, bInc
	default:
		return a, aInc && bInc
	}
}
