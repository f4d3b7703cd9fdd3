// Package schema implements the column catalog, row projection and
// column-sparse record codec that sit between the storage engine's
// byte-string keyspaces and the SQL execution core, per spec.md §4.13.
package schema

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltsql/internal/types"
)

var (
	ErrNoPrimaryColumn  = errors.New("schema: no primary column defined")
	ErrUnknownColumn    = errors.New("schema: unknown column")
	ErrDuplicateColumn  = errors.New("schema: duplicate column name")
)

// Column describes one table column: its catalog id, type, whether it is
// the table's primary key, and (if attached) the keyspace id backing a
// secondary index over it.
type Column struct {
	ID                      uint32
	Name                    string
	Type                    types.Type
	IsPrimary               bool
	SecondaryIndexKeyspaceID *uint64
}

// Schema is a column_name -> Column mapping. Exactly one column is
// primary. Adding columns or attaching a secondary index allocates a
// fresh column/keyspace id without rewriting history (spec.md §3).
type Schema struct {
	byName    map[string]*Column
	byID      map[uint32]*Column
	order     []string // declaration order, for DESCRIBE and SELECT *
	nextColID uint32
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{byName: make(map[string]*Column), byID: make(map[uint32]*Column), nextColID: 1}
}

// AddColumn allocates a fresh column id for name and registers it.
func (s *Schema) AddColumn(name string, t types.Type, isPrimary bool) (*Column, error) {
	if _, exists := s.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if isPrimary {
		if p := s.Primary(); p != nil {
			return nil, fmt.Errorf("schema: table already has primary column %s", p.Name)
		}
	}
	col := &Column{ID: s.nextColID, Name: name, Type: t, IsPrimary: isPrimary}
	s.nextColID++
	s.byName[name] = col
	s.byID[col.ID] = col
	s.order = append(s.order, name)
	return col, nil
}

// AttachSecondaryIndex records that column name now has a secondary index
// backed by the given keyspace id, without rewriting any existing row.
func (s *Schema) AttachSecondaryIndex(name string, keyspaceID uint64) error {
	col, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	col.SecondaryIndexKeyspaceID = &keyspaceID
	return nil
}

func (s *Schema) Column(name string) (*Column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

func (s *Schema) ColumnByID(id uint32) (*Column, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Primary returns the table's single primary column, or nil if none has
// been added yet.
func (s *Schema) Primary() *Column {
	for _, name := range s.order {
		if c := s.byName[name]; c.IsPrimary {
			return c
		}
	}
	return nil
}

// Columns returns every column in declaration order.
func (s *Schema) Columns() []*Column {
	out := make([]*Column, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// ColumnIDs returns the catalog ids of the given column names, in the
// order given, erroring on any name not present in the schema.
func (s *Schema) ColumnIDs(names []string) ([]uint32, error) {
	ids := make([]uint32, len(names))
	for i, name := range names {
		c, ok := s.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		ids[i] = c.ID
	}
	return ids, nil
}
