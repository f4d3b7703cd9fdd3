package plan

import (
	"fmt"

	"github.com/return2faye/siltsql/internal/catalog"
	"github.com/return2faye/siltsql/internal/sql/analyzer"
	"github.com/return2faye/siltsql/internal/sql/eval"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/txn"
)

// BuildSelect plans a SELECT: constant folding, scan-type analysis, then
// wrapping with filter, sort/limit and projection as needed. There is no
// storage-engine selection stage: every scan reads whole rows, and a
// ProjectSelectionStep is added whenever the statement lists its columns.
func BuildSelect(stmt *parser.SelectStatement, tbl *catalog.Table, s *storage.Storage, t *txn.Transaction) (Step, error) {
	where := stmt.Where
	if where != nil {
		where = eval.EvaluateConstantExpressions(where)
	}

	scanDesc, err := analyzer.Analyze(where, tbl.Schema)
	if err != nil {
		return nil, err
	}
	step, err := buildScan(scanDesc, tbl, t)
	if err != nil {
		return nil, err
	}

	if where != nil {
		step = NewFilterStep(step, where, tbl.Schema)
	}

	hasOrder := stmt.OrderBy != ""
	hasLimit := stmt.Limit != nil
	switch {
	case hasOrder && hasLimit:
		step = NewTopNSortStep(step, tbl.Schema, SortKey{Column: stmt.OrderBy, Desc: stmt.Desc}, int(*stmt.Limit))
	case hasOrder:
		step = NewFullSortStep(step, tbl.Schema, SortKey{Column: stmt.OrderBy, Desc: stmt.Desc}, s)
	case hasLimit:
		step = NewLimitStep(step, *stmt.Limit)
	}

	if len(stmt.Columns) > 0 {
		ids, err := tbl.Schema.ColumnIDs(stmt.Columns)
		if err != nil {
			return nil, err
		}
		step = NewProjectSelectionStep(step, ids, stmt.Columns)
	}

	return step, nil
}

// buildScan lowers one analyzer.Scan node into a plan Step, recursing into
// Left/Right for the merge combinators and wrapping a residual filter
// where the analyzer attached one (spec.md §9 Open Question (c)'s
// ConditionalMerge).
func buildScan(s *analyzer.Scan, tbl *catalog.Table, t *txn.Transaction) (Step, error) {
	switch s.Kind {
	case analyzer.Full:
		return NewFullScan(tbl, t), nil
	case analyzer.ExactPrimary:
		return NewPrimaryExactScan(tbl, t, s.Value), nil
	case analyzer.ExactSecondary:
		return NewSecondaryExactScan(tbl, t, s.Column, s.Value), nil
	case analyzer.Range:
		if pk := tbl.Schema.Primary(); pk != nil && pk.Name == s.Column {
			return NewPrimaryRangeScan(tbl, t, s.Start, s.End, s.StartInclusive, s.EndInclusive), nil
		}
		return NewSecondaryRangeScan(tbl, t, s.Column, s.Start, s.End, s.StartInclusive, s.EndInclusive), nil
	case analyzer.MergeUnion:
		left, err := buildScan(s.Left, tbl, t)
		if err != nil {
			return nil, err
		}
		right, err := buildScan(s.Right, tbl, t)
		if err != nil {
			return nil, err
		}
		return NewMergeUnionStep(left, right), nil
	case analyzer.MergeIntersection:
		left, err := buildScan(s.Left, tbl, t)
		if err != nil {
			return nil, err
		}
		right, err := buildScan(s.Right, tbl, t)
		if err != nil {
			return nil, err
		}
		var step Step = NewMergeIntersectionStep(left, right)
		if s.Residual != nil {
			step = NewFilterStep(step, s.Residual, tbl.Schema)
		}
		return step, nil
	default:
		return nil, fmt.Errorf("plan: unknown scan kind %d", s.Kind)
	}
}
