package plan

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltsql/internal/catalog"
	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/analyzer"
	"github.com/return2faye/siltsql/internal/sql/eval"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
)

// ErrStatementRequiresSession is returned for BEGIN/COMMIT/ROLLBACK:
// those three statement kinds mutate which transaction a connection's
// subsequent statements run under, so the session/connection layer
// intercepts them before a statement ever reaches Execute, which always
// runs against an already-open *txn.Transaction.
var ErrStatementRequiresSession = errors.New("plan: statement must be handled by the connection session, not Execute")

// Result is the uniform outcome Execute returns for every statement kind.
type Result struct {
	Columns      []string
	Rows         []*schema.Row
	RowsAffected int64
	Message      string
	Explain      string
}

// Execute runs one parsed statement against db (resolved from cat by
// name) under transaction t, per spec.md §4.17's planner pipeline plus
// the DDL/DML/introspection statements spec.md §2 enumerates.
func Execute(stmt parser.Statement, cat *catalog.Catalog, dbName string, s *storage.Storage, t *txn.Transaction) (*Result, error) {
	db := cat.UseDatabase(dbName)

	switch st := stmt.(type) {
	case *parser.SelectStatement:
		return executeSelect(st, db, s, t)
	case *parser.InsertStatement:
		return executeInsert(st, db, t)
	case *parser.UpdateStatement:
		return executeUpdate(st, db, t)
	case *parser.DeleteStatement:
		return executeDelete(st, db, t)
	case *parser.CreateTableStatement:
		if _, err := db.CreateTable(st); err != nil {
			return nil, err
		}
		return &Result{Message: fmt.Sprintf("table %s created", st.Table)}, nil
	case *parser.CreateIndexStatement:
		if err := db.CreateIndex(st); err != nil {
			return nil, err
		}
		return &Result{Message: fmt.Sprintf("index on %s.%s created", st.Table, st.Column)}, nil
	case *parser.DropTableStatement:
		if err := db.DropTable(st.Table); err != nil {
			return nil, err
		}
		return &Result{Message: fmt.Sprintf("table %s dropped", st.Table)}, nil
	case *parser.ShowStatement:
		return executeShow(st, cat, db)
	case *parser.DescribeStatement:
		cols, err := db.Describe(st.Table)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{"column", "type", "primary_key"}, Message: describeMessage(cols), RowsAffected: int64(len(cols))}, nil
	case *parser.ExplainStatement:
		return executeExplain(st, db, s, t)
	case *parser.BeginStatement, *parser.CommitStatement, *parser.RollbackStatement:
		return nil, ErrStatementRequiresSession
	default:
		return nil, fmt.Errorf("plan: unsupported statement %T", stmt)
	}
}

func describeMessage(cols []*schema.Column) string {
	msg := ""
	for _, c := range cols {
		if msg != "" {
			msg += "\n"
		}
		pk := ""
		if c.IsPrimary {
			pk = " PRIMARY KEY"
		}
		msg += fmt.Sprintf("%s %s%s", c.Name, c.Type, pk)
	}
	return msg
}

func executeSelect(stmt *parser.SelectStatement, db *catalog.Database, s *storage.Storage, t *txn.Transaction) (*Result, error) {
	tbl, ok := db.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoSuchTable, stmt.Table)
	}
	step, err := BuildSelect(stmt, tbl, s, t)
	if err != nil {
		return nil, err
	}
	defer step.Close()

	columns := stmt.Columns
	if len(columns) == 0 {
		for _, c := range tbl.Schema.Columns() {
			columns = append(columns, c.Name)
		}
	}

	var rows []*schema.Row
	for {
		row, ok, err := step.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return &Result{Columns: columns, Rows: rows, RowsAffected: int64(len(rows))}, nil
}

// noColumnLookup backs INSERT's VALUES list: it has no row to resolve
// column references against, since a literal-only expression is all
// spec.md's INSERT grammar allows.
func noColumnLookup(name string) (types.Value, bool) { return types.Value{}, false }

func executeInsert(stmt *parser.InsertStatement, db *catalog.Database, t *txn.Transaction) (*Result, error) {
	tbl, ok := db.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoSuchTable, stmt.Table)
	}
	if len(stmt.Columns) != len(stmt.Values) {
		return nil, fmt.Errorf("plan: insert column/value count mismatch for table %s", stmt.Table)
	}
	values := make(map[string]types.Value, len(stmt.Columns))
	for i, name := range stmt.Columns {
		v, err := eval.EvaluateExpression(stmt.Values[i], noColumnLookup)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}
	if err := tbl.Insert(t, values); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1, Message: fmt.Sprintf("1 row inserted into %s", stmt.Table)}, nil
}

// matchingRows materializes every row of tbl satisfying where (nil means
// every row), used by UPDATE/DELETE which must know every affected
// primary key before mutating the table they are scanning.
func matchingRows(tbl *catalog.Table, where parser.Expression, t *txn.Transaction) ([]*schema.Row, error) {
	folded := where
	if folded != nil {
		folded = eval.EvaluateConstantExpressions(folded)
	}
	scanDesc, err := analyzer.Analyze(folded, tbl.Schema)
	if err != nil {
		return nil, err
	}
	step, err := buildScan(scanDesc, tbl, t)
	if err != nil {
		return nil, err
	}
	defer step.Close()
	if folded != nil {
		step = NewFilterStep(step, folded, tbl.Schema)
	}

	var rows []*schema.Row
	for {
		row, ok, err := step.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func executeUpdate(stmt *parser.UpdateStatement, db *catalog.Database, t *txn.Transaction) (*Result, error) {
	tbl, ok := db.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoSuchTable, stmt.Table)
	}
	rows, err := matchingRows(tbl, stmt.Where, t)
	if err != nil {
		return nil, err
	}
	pk := tbl.Schema.Primary()
	if pk == nil {
		return nil, schema.ErrNoPrimaryColumn
	}

	var n int64
	for _, row := range rows {
		pkValue, ok := row.Record.Get(pk.ID)
		if !ok {
			continue
		}
		sets := make(map[string]types.Value, len(stmt.Sets))
		for name, expr := range stmt.Sets {
			v, err := eval.EvaluateExpression(expr, rowLookup(tbl.Schema, row))
			if err != nil {
				return nil, err
			}
			sets[name] = v
		}
		if err := tbl.Update(t, pkValue, sets); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{RowsAffected: n, Message: fmt.Sprintf("%d row(s) updated in %s", n, stmt.Table)}, nil
}

func executeDelete(stmt *parser.DeleteStatement, db *catalog.Database, t *txn.Transaction) (*Result, error) {
	tbl, ok := db.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoSuchTable, stmt.Table)
	}
	rows, err := matchingRows(tbl, stmt.Where, t)
	if err != nil {
		return nil, err
	}
	pk := tbl.Schema.Primary()
	if pk == nil {
		return nil, schema.ErrNoPrimaryColumn
	}

	var n int64
	for _, row := range rows {
		pkValue, ok := row.Record.Get(pk.ID)
		if !ok {
			continue
		}
		if err := tbl.Delete(t, pkValue); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{RowsAffected: n, Message: fmt.Sprintf("%d row(s) deleted from %s", n, stmt.Table)}, nil
}

func executeShow(stmt *parser.ShowStatement, cat *catalog.Catalog, db *catalog.Database) (*Result, error) {
	switch stmt.Kind {
	case parser.ShowTables:
		names := db.TableNames()
		return namesResult("table", names), nil
	case parser.ShowIndexes:
		names, err := db.IndexNames(stmt.Table)
		if err != nil {
			return nil, err
		}
		return namesResult("column", names), nil
	case parser.ShowDatabases:
		names := cat.DatabaseNames()
		return namesResult("database", names), nil
	default:
		return nil, fmt.Errorf("plan: unknown SHOW kind %d", stmt.Kind)
	}
}

// namesResult packs a SHOW statement's output into the same Result shape
// a SELECT returns, under a single synthetic column id — these rows never
// flow through a real table schema, so the id is an internal convention
// rather than a catalog-assigned one.
func namesResult(column string, names []string) *Result {
	const nameColumnID = 1
	rows := make([]*schema.Row, len(names))
	for i, n := range names {
		rec := schema.NewRecord()
		rec.Set(nameColumnID, types.NewString(n))
		rows[i] = &schema.Row{Record: rec}
	}
	return &Result{Columns: []string{column}, Rows: rows, RowsAffected: int64(len(names))}
}

func executeExplain(stmt *parser.ExplainStatement, db *catalog.Database, s *storage.Storage, t *txn.Transaction) (*Result, error) {
	sel, ok := stmt.Inner.(*parser.SelectStatement)
	if !ok {
		return nil, fmt.Errorf("plan: EXPLAIN only supports SELECT")
	}
	tbl, ok := db.Table(sel.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNoSuchTable, sel.Table)
	}
	step, err := BuildSelect(sel, tbl, s, t)
	if err != nil {
		return nil, err
	}
	defer step.Close()
	return &Result{Explain: FormatExplain(step.Desc())}, nil
}
