package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/return2faye/siltsql/internal/catalog"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/txn"
)

func newTestCatalog(t *testing.T) (*catalog.Catalog, *storage.Storage) {
	t.Helper()
	s, err := storage.Mock()
	require.NoError(t, err)
	return catalog.NewCatalog(s), s
}

func mustParse(t *testing.T, sql string) parser.Statement {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err, "parse %q", sql)
	return stmt
}

// setupWidgets builds a small table with a secondary index and three rows,
// exercising CREATE TABLE, CREATE INDEX and INSERT end to end before
// returning a fresh transaction for the caller's own statements.
func setupWidgets(t *testing.T, cat *catalog.Catalog, s *storage.Storage) *txn.Transaction {
	t.Helper()
	tx := s.StartTransaction(txn.SnapshotIsolation)
	_, err := Execute(mustParse(t, "CREATE TABLE widgets (id I64 PRIMARY KEY, name STRING, price I64)"), cat, "d", s, tx)
	require.NoError(t, err)
	_, err = Execute(mustParse(t, "CREATE INDEX ON widgets (name)"), cat, "d", s, tx)
	require.NoError(t, err)

	rows := []string{
		"INSERT INTO widgets (id, name, price) VALUES (1, 'a', 10)",
		"INSERT INTO widgets (id, name, price) VALUES (2, 'b', 20)",
		"INSERT INTO widgets (id, name, price) VALUES (3, 'c', 30)",
	}
	for _, q := range rows {
		_, err := Execute(mustParse(t, q), cat, "d", s, tx)
		require.NoError(t, err)
	}
	require.NoError(t, s.Commit(tx))
	return s.StartTransaction(txn.SnapshotIsolation)
}

func TestSelectFullScan(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "SELECT * FROM widgets"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.RowsAffected)
}

func TestSelectPrimaryExactScan(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "SELECT name FROM widgets WHERE id == 2"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
}

func TestSelectSecondaryExactScan(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "SELECT id FROM widgets WHERE name == 'b'"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
}

func TestSelectOrderByAndLimit(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "SELECT id FROM widgets ORDER BY price DESC LIMIT 2"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.RowsAffected)

	db := cat.UseDatabase("d")
	tbl, ok := db.Table("widgets")
	require.True(t, ok)
	col, ok := tbl.Schema.Column("id")
	require.True(t, ok)
	v, ok := res.Rows[0].Record.Get(col.ID)
	require.True(t, ok)
	n, err := v.AsI64()
	require.NoError(t, err)
	require.Equal(t, int64(3), n, "expected highest-price row (id=3) first")
}

func TestUpdateAndDelete(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)

	res, err := Execute(mustParse(t, "UPDATE widgets SET price = 99 WHERE id == 1"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	res, err = Execute(mustParse(t, "DELETE FROM widgets WHERE id == 2"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	res, err = Execute(mustParse(t, "SELECT * FROM widgets"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.RowsAffected)
}

func TestExplainRendersScanTree(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "EXPLAIN SELECT * FROM widgets WHERE id == 1"), cat, "d", s, tx)
	require.NoError(t, err)
	require.NotEmpty(t, res.Explain)
}

func TestShowTablesAndIndexes(t *testing.T) {
	cat, s := newTestCatalog(t)
	tx := setupWidgets(t, cat, s)
	res, err := Execute(mustParse(t, "SHOW TABLES"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	res, err = Execute(mustParse(t, "SHOW INDEXES ON widgets"), cat, "d", s, tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
}
