// Package plan implements the query planner and plan-step iterator tree
// described in spec.md §4.17: leaf scans, set combinators, filtering,
// sorting/limiting and projection, wired together into a pipeline for
// SELECT, plus the execution paths for INSERT/UPDATE/DELETE and DDL/SHOW/
// DESCRIBE/EXPLAIN.
package plan

import (
	"strings"

	"github.com/return2faye/siltsql/internal/schema"
)

// PlanStepDesc is the EXPLAIN-facing description of one plan-step node,
// per spec.md §4.17's "desc() -> PlanStepDesc".
type PlanStepDesc struct {
	Kind     string
	Detail   string
	Children []PlanStepDesc
}

// Step is a single-row-producing iterator: every leaf scan, combinator,
// and shaping step implements it.
type Step interface {
	Next() (*schema.Row, bool, error)
	Desc() PlanStepDesc
	Close() error
}

// FormatExplain renders a PlanStepDesc tree the way EXPLAIN prints it:
// one indented line per node.
func FormatExplain(d PlanStepDesc) string {
	var b strings.Builder
	writeExplain(&b, d, 0)
	return b.String()
}

func writeExplain(b *strings.Builder, d PlanStepDesc, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(d.Kind)
	if d.Detail != "" {
		b.WriteString(": ")
		b.WriteString(d.Detail)
	}
	b.WriteString("\n")
	for _, c := range d.Children {
		writeExplain(b, c, depth+1)
	}
}
