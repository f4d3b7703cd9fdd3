package schema

import (
	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/utils"
)

// Row is a fully (or selection-fully) materialized record ready to be
// surfaced to a plan step, tagged with the primary key bytes it was
// reassembled from.
type Row struct {
	PrimaryKey []byte
	Record     *Record
}

// Project returns a new Row containing only the given column ids, in the
// order given; a missing column is simply absent from the result (the
// planner's ProjectSelectionStep drops rather than errors).
func (row *Row) Project(columnIDs []uint32) *Row {
	out := NewRecord()
	for _, id := range columnIDs {
		if v, ok := row.Record.Get(id); ok {
			out.Set(id, v)
		}
	}
	return &Row{PrimaryKey: row.PrimaryKey, Record: out}
}

// Accumulator implements the key-grouped accumulation spec.md §3
// describes: consecutive storage-engine entries sharing a user-key-bytes
// are union-merged newest-wins until the projected column set is covered
// or the group ends.
type Accumulator struct {
	wantColumns []uint32
	current     *Record
	currentKey  []byte
	hasCurrent  bool
}

// NewAccumulator creates an accumulator that stops consuming a key's
// entries once every column in wantColumns has a value (or the group of
// entries for that key runs out, whichever comes first).
func NewAccumulator(wantColumns []uint32) *Accumulator {
	return &Accumulator{wantColumns: wantColumns}
}

// Feed presents the next (primaryKeyBytes, recordBytes) storage-engine
// entry. It returns a Row when the current key's group becomes covered or
// closes because a new key begins; entries for a key whose Row was already
// returned are skipped. After the last entry, Flush surfaces the last
// in-flight group.
func (a *Accumulator) Feed(primaryKeyBytes []byte, recordBytes []byte) (*Row, error) {
	rec, err := DeserializeRecord(recordBytes)
	if err != nil {
		return nil, err
	}

	if a.hasCurrent && bytesEqual(a.currentKey, primaryKeyBytes) {
		a.current.Merge(rec)
		if a.current.HasAll(a.wantColumns) {
			row := &Row{PrimaryKey: a.currentKey, Record: a.current}
			a.hasCurrent = false
			return row, nil
		}
		return nil, nil
	}
	if !a.hasCurrent && a.currentKey != nil && bytesEqual(a.currentKey, primaryKeyBytes) {
		return nil, nil
	}

	var completed *Row
	if a.hasCurrent {
		completed = &Row{PrimaryKey: a.currentKey, Record: a.current}
	}
	a.current = rec
	a.currentKey = utils.CopyBytes(primaryKeyBytes)
	a.hasCurrent = true
	if completed == nil && a.current.HasAll(a.wantColumns) {
		row := &Row{PrimaryKey: a.currentKey, Record: a.current}
		a.hasCurrent = false
		return row, nil
	}
	return completed, nil
}

// Flush returns the final in-flight group, if any, after the underlying
// entry stream is exhausted.
func (a *Accumulator) Flush() *Row {
	if !a.hasCurrent {
		return nil
	}
	row := &Row{PrimaryKey: a.currentKey, Record: a.current}
	a.hasCurrent = false
	return row
}

func firstNonNil(a, b *Row) *Row {
	if a != nil {
		return a
	}
	return b
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ = types.Null
