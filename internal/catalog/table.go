package catalog

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
)

var (
	ErrNoSuchTable       = errors.New("catalog: no such table")
	ErrMissingPrimaryKey = errors.New("catalog: row is missing its primary key column")
)

// Table binds a schema to the storage-engine keyspaces backing it: one
// primary keyspace, and one posting-list keyspace per secondary index.
type Table struct {
	Name              string
	Schema            *schema.Schema
	PrimaryKeyspaceID uint64

	storage  *storage.Storage
	postings map[string]*PostingList // column name -> posting list
}

// Posting returns the posting list backing column's secondary index, used
// by the planner's SecondaryExactScan/SecondaryRangeScan leaves.
func (tbl *Table) Posting(column string) (*PostingList, error) {
	pl, ok := tbl.postings[column]
	if !ok {
		return nil, fmt.Errorf("catalog: column %s has no secondary index", column)
	}
	return pl, nil
}

func tableMergeFunc(prev, next []byte) ([]byte, storage.MergeOutcome, error) {
	if types.IsTombstone(next) {
		return next, storage.MergeDiscardPreviousAndNew, nil
	}
	if types.IsTombstone(prev) {
		return next, storage.MergeDiscardPreviousKeepNew, nil
	}
	prevRec, err := schema.DeserializeRecord(prev)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: merging row version: %w", err)
	}
	nextRec, err := schema.DeserializeRecord(next)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: merging row version: %w", err)
	}
	prevRec.Merge(nextRec)
	return prevRec.Serialize(), storage.MergeOK, nil
}

func (tbl *Table) primaryKeyBytes(values map[string]types.Value) ([]byte, error) {
	pk := tbl.Schema.Primary()
	if pk == nil {
		return nil, fmt.Errorf("catalog: table %s has no primary column", tbl.Name)
	}
	v, ok := values[pk.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingPrimaryKey, pk.Name)
	}
	return schema.EncodeOrderedKey(v)
}

// Insert writes a brand new row. Every secondary-indexed column present
// in values gets a posting-list entry.
func (tbl *Table) Insert(t *txn.Transaction, values map[string]types.Value) error {
	pkBytes, err := tbl.primaryKeyBytes(values)
	if err != nil {
		return err
	}
	rec := schema.NewRecord()
	for name, v := range values {
		col, ok := tbl.Schema.Column(name)
		if !ok {
			return fmt.Errorf("%w: %s", schema.ErrUnknownColumn, name)
		}
		rec.Set(col.ID, v)
	}
	if err := tbl.storage.Set(tbl.PrimaryKeyspaceID, pkBytes, rec.Serialize(), t); err != nil {
		return err
	}
	for name, v := range values {
		if pl, ok := tbl.postings[name]; ok {
			encoded, err := schema.EncodeOrderedKey(v)
			if err != nil {
				return err
			}
			if err := pl.Add(t, encoded, pkBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update writes a column-sparse patch over an existing row, keyed by its
// primary key. Secondary indexes on changed columns are kept in sync by
// reading the row's current value first.
func (tbl *Table) Update(t *txn.Transaction, pk types.Value, sets map[string]types.Value) error {
	pkBytes, err := schema.EncodeOrderedKey(pk)
	if err != nil {
		return err
	}
	var current *schema.Record
	if len(tbl.postings) > 0 {
		row, found, err := tbl.Get(t, pk, nil)
		if err != nil {
			return err
		}
		if found {
			current = row.Record
		}
	}

	rec := schema.NewRecord()
	for name, v := range sets {
		col, ok := tbl.Schema.Column(name)
		if !ok {
			return fmt.Errorf("%w: %s", schema.ErrUnknownColumn, name)
		}
		rec.Set(col.ID, v)
	}
	if err := tbl.storage.Set(tbl.PrimaryKeyspaceID, pkBytes, rec.Serialize(), t); err != nil {
		return err
	}

	for name, v := range sets {
		pl, ok := tbl.postings[name]
		if !ok {
			continue
		}
		newEncoded, err := schema.EncodeOrderedKey(v)
		if err != nil {
			return err
		}
		if current != nil {
			col, _ := tbl.Schema.Column(name)
			if old, ok := current.Get(col.ID); ok {
				oldEncoded, err := schema.EncodeOrderedKey(old)
				if err != nil {
					return err
				}
				if err := pl.Remove(t, oldEncoded, pkBytes); err != nil {
					return err
				}
			}
		}
		if err := pl.Add(t, newEncoded, pkBytes); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a row and every secondary posting it holds.
func (tbl *Table) Delete(t *txn.Transaction, pk types.Value) error {
	pkBytes, err := schema.EncodeOrderedKey(pk)
	if err != nil {
		return err
	}
	if len(tbl.postings) > 0 {
		row, found, err := tbl.Get(t, pk, nil)
		if err != nil {
			return err
		}
		if found {
			for name, pl := range tbl.postings {
				col, _ := tbl.Schema.Column(name)
				if v, ok := row.Record.Get(col.ID); ok {
					encoded, err := schema.EncodeOrderedKey(v)
					if err != nil {
						return err
					}
					if err := pl.Remove(t, encoded, pkBytes); err != nil {
						return err
					}
				}
			}
		}
	}
	return tbl.storage.Delete(tbl.PrimaryKeyspaceID, pkBytes, t)
}

// Get reads one row by primary key. Every stored version is folded by the
// primary keyspace's merge function inside the storage scan, the same way
// a scan folds them; no schema.Accumulator is involved.
func (tbl *Table) Get(t *txn.Transaction, pk types.Value, selection []uint32) (*schema.Row, bool, error) {
	pkBytes, err := schema.EncodeOrderedKey(pk)
	if err != nil {
		return nil, false, err
	}
	return tbl.GetByEncodedKey(t, pkBytes, selection)
}

// GetByEncodedKey reads a row given its already order-encoded primary key
// bytes, skipping the types.Value round trip — used by the planner's
// secondary-index scans, which recover primary keys straight out of a
// PostingList entry.
func (tbl *Table) GetByEncodedKey(t *txn.Transaction, pkBytes []byte, selection []uint32) (*schema.Row, bool, error) {
	it, err := tbl.storage.ScanFrom(tbl.PrimaryKeyspaceID, pkBytes, true, t)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()

	userBytes, value, ok := it.Next()
	if !ok || string(userBytes) != string(pkBytes) {
		return nil, false, nil
	}
	if types.IsTombstone(value) {
		return nil, false, nil
	}
	rec, err := schema.DeserializeRecord(value)
	if err != nil {
		return nil, false, err
	}
	row := &schema.Row{PrimaryKey: pkBytes, Record: rec}
	if selection != nil {
		row = row.Project(selection)
	}
	return row, true, nil
}

// ScanAll returns every row in primary-key order, already reassembled.
func (tbl *Table) ScanAll(t *txn.Transaction) (*RowIterator, error) {
	it, err := tbl.storage.ScanAll(tbl.PrimaryKeyspaceID, t)
	if err != nil {
		return nil, err
	}
	return &RowIterator{inner: it}, nil
}

// ScanFrom returns every row at or after key (by primary-key byte
// ordering), used by PrimaryRangeScan.
func (tbl *Table) ScanFrom(t *txn.Transaction, key []byte, inclusive bool) (*RowIterator, error) {
	it, err := tbl.storage.ScanFrom(tbl.PrimaryKeyspaceID, key, inclusive, t)
	if err != nil {
		return nil, err
	}
	return &RowIterator{inner: it}, nil
}

// RowIterator reassembles whole rows from a storage-engine scan via
// schema.Accumulator's key-grouped accumulation (spec.md §3/§4.13). The
// primary keyspace's merge function already folds every version of a
// given key down to one entry before the scan sees it, so in practice
// each group the accumulator sees holds exactly one engine entry — but
// routing through the accumulator keeps row reassembly uniform with any
// future keyspace layout that does split a row across neighboring keys.
type RowIterator struct {
	inner *storage.StorageEngineIterator
	acc   *schema.Accumulator
	done  bool
}

func (ri *RowIterator) Next() (*schema.Row, bool, error) {
	if ri.acc == nil {
		ri.acc = schema.NewAccumulator(nil)
	}
	for !ri.done {
		userBytes, value, ok := ri.inner.Next()
		if !ok {
			ri.done = true
			if row := ri.acc.Flush(); row != nil {
				return row, true, nil
			}
			return nil, false, nil
		}
		row, err := ri.acc.Feed(userBytes, value)
		if err != nil {
			return nil, false, err
		}
		if row != nil {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (ri *RowIterator) Close() error { return ri.inner.Close() }
