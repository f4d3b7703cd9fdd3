package plan

import (
	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/eval"
	"github.com/return2faye/siltsql/internal/types"
)

// rowLookup adapts a reassembled row into the eval.ColumnLookup the
// expression evaluator expects, resolving names through tbl's schema.
func rowLookup(sc *schema.Schema, row *schema.Row) eval.ColumnLookup {
	return func(name string) (types.Value, bool) {
		col, ok := sc.Column(name)
		if !ok {
			return types.Value{}, false
		}
		return row.Record.Get(col.ID)
	}
}
