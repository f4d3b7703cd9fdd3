package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/parser"
	"github.com/return2faye/siltsql/internal/storage"
)

// Database is a named collection of tables sharing one Storage handle,
// per spec.md §6's `<root>/databases.desc` directory.
type Database struct {
	Name string

	mu      sync.RWMutex
	storage *storage.Storage
	tables  map[string]*Table
}

// NewDatabase creates an (empty, in-memory-catalog) database over an
// already-open Storage. Table DDL is recorded only in the in-process
// catalog; the keyspaces it allocates are durable, matching the teacher's
// split between ephemeral schema metadata and durable keyspace content.
func NewDatabase(name string, s *storage.Storage) *Database {
	return &Database{Name: name, storage: s, tables: make(map[string]*Table)}
}

// CreateTable executes a CREATE TABLE statement: allocates a primary
// keyspace and registers tbl's schema in the catalog.
func (db *Database) CreateTable(stmt *parser.CreateTableStatement) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[stmt.Table]; exists {
		return nil, fmt.Errorf("catalog: table %s already exists", stmt.Table)
	}

	sc := schema.New()
	for _, c := range stmt.Columns {
		if _, err := sc.AddColumn(c.Name, c.Type, c.IsPrimary); err != nil {
			return nil, err
		}
	}
	if sc.Primary() == nil {
		return nil, fmt.Errorf("catalog: table %s declares no primary key", stmt.Table)
	}

	ksID, err := db.storage.CreateKeyspace(storage.CreateKeyspaceFlags{}, tableMergeFunc)
	if err != nil {
		return nil, err
	}
	tbl := &Table{
		Name:              stmt.Table,
		Schema:            sc,
		PrimaryKeyspaceID: ksID,
		storage:           db.storage,
		postings:          make(map[string]*PostingList),
	}
	db.tables[stmt.Table] = tbl
	return tbl, nil
}

// DropTable removes a table from the catalog. The underlying keyspace's
// SSTables are left on disk (no online keyspace-deletion path exists at
// the storage layer); this mirrors the teacher's treatment of compaction
// leftovers as a housekeeping, not correctness, concern.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	delete(db.tables, name)
	return nil
}

// CreateIndex attaches a secondary index to an existing column, backed by
// a fresh posting-list keyspace.
func (db *Database) CreateIndex(stmt *parser.CreateIndexStatement) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	tbl, ok := db.tables[stmt.Table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, stmt.Table)
	}
	ksID, err := db.storage.CreateKeyspace(storage.CreateKeyspaceFlags{}, nil)
	if err != nil {
		return err
	}
	if err := tbl.Schema.AttachSecondaryIndex(stmt.Column, ksID); err != nil {
		return err
	}
	tbl.postings[stmt.Column] = NewPostingList(db.storage, ksID)
	return nil
}

// Table looks up a table by name.
func (db *Database) Table(name string) (*Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// TableNames returns every table name, sorted, for SHOW TABLES.
func (db *Database) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexNames returns "column" for every secondary index on table, sorted,
// for SHOW INDEXES ON table.
func (db *Database) IndexNames(table string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	tbl, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, table)
	}
	var names []string
	for _, c := range tbl.Schema.Columns() {
		if c.SecondaryIndexKeyspaceID != nil {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Describe returns table's columns in declaration order, for DESCRIBE.
func (db *Database) Describe(table string) ([]*schema.Column, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	tbl, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, table)
	}
	return tbl.Schema.Columns(), nil
}

// Catalog is the database directory spec.md §6 calls
// `<root>/databases.desc`: every open database, keyed by name.
type Catalog struct {
	mu        sync.RWMutex
	storage   *storage.Storage
	databases map[string]*Database
}

func NewCatalog(s *storage.Storage) *Catalog {
	return &Catalog{storage: s, databases: make(map[string]*Database)}
}

// UseDatabase returns the named database, creating it if this is the
// first reference (spec.md's wire protocol issues UseDatabase per
// connection without a separate CREATE DATABASE statement).
func (c *Catalog) UseDatabase(name string) *Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[name]; ok {
		return db
	}
	db := NewDatabase(name, c.storage)
	c.databases[name] = db
	return db
}

// DatabaseNames returns every known database name, sorted, for SHOW
// DATABASES.
func (c *Catalog) DatabaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
