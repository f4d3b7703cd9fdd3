package plan

import (
	"fmt"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/eval"
	"github.com/return2faye/siltsql/internal/sql/parser"
)

// FilterStep evaluates expr per row, passing through only rows where it is
// true (per spec.md §4.17's tri-valued WHERE gate).
type FilterStep struct {
	source Step
	expr   parser.Expression
	schema *schema.Schema
}

func NewFilterStep(source Step, expr parser.Expression, sc *schema.Schema) *FilterStep {
	return &FilterStep{source: source, expr: expr, schema: sc}
}

func (s *FilterStep) Next() (*schema.Row, bool, error) {
	for {
		row, ok, err := s.source.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		keep, err := eval.EvaluateWhereExpression(s.expr, rowLookup(s.schema, row))
		if err != nil {
			return nil, false, err
		}
		if keep {
			return row, true, nil
		}
	}
}

func (s *FilterStep) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "Filter", Children: []PlanStepDesc{s.source.Desc()}}
}

func (s *FilterStep) Close() error { return s.source.Close() }

// LimitStep forwards the first n rows of source, per spec.md §4.17.
type LimitStep struct {
	source Step
	n      int64
	seen   int64
}

func NewLimitStep(source Step, n int64) *LimitStep {
	return &LimitStep{source: source, n: n}
}

func (s *LimitStep) Next() (*schema.Row, bool, error) {
	if s.seen >= s.n {
		return nil, false, nil
	}
	row, ok, err := s.source.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	s.seen++
	return row, true, nil
}

func (s *LimitStep) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "Limit", Detail: fmt.Sprintf("%d", s.n), Children: []PlanStepDesc{s.source.Desc()}}
}

func (s *LimitStep) Close() error { return s.source.Close() }
