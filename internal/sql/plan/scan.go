package plan

import (
	"fmt"

	"github.com/return2faye/siltsql/internal/catalog"
	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
)

// FullScan iterates every row of a table, per spec.md §4.17.
type FullScan struct {
	tbl  *catalog.Table
	it   *catalog.RowIterator
	txn  *txn.Transaction
}

func NewFullScan(tbl *catalog.Table, t *txn.Transaction) *FullScan {
	return &FullScan{tbl: tbl, txn: t}
}

func (s *FullScan) Next() (*schema.Row, bool, error) {
	if s.it == nil {
		it, err := s.tbl.ScanAll(s.txn)
		if err != nil {
			return nil, false, err
		}
		s.it = it
	}
	return s.it.Next()
}

func (s *FullScan) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "FullScan", Detail: s.tbl.Name}
}

func (s *FullScan) Close() error {
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

// PrimaryExactScan is a point lookup by primary key.
type PrimaryExactScan struct {
	tbl  *catalog.Table
	txn  *txn.Transaction
	pk   types.Value
	done bool
}

func NewPrimaryExactScan(tbl *catalog.Table, t *txn.Transaction, pk types.Value) *PrimaryExactScan {
	return &PrimaryExactScan{tbl: tbl, txn: t, pk: pk}
}

func (s *PrimaryExactScan) Next() (*schema.Row, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return s.tbl.Get(s.txn, s.pk, nil)
}

func (s *PrimaryExactScan) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "PrimaryExactScan", Detail: fmt.Sprintf("%s.%s = %s", s.tbl.Name, s.tbl.Schema.Primary().Name, s.pk.String())}
}

func (s *PrimaryExactScan) Close() error { return nil }

// SecondaryExactScan looks up a secondary index's posting list for one
// value, then fetches each posted row by primary key.
type SecondaryExactScan struct {
	tbl     *catalog.Table
	txn     *txn.Transaction
	column  string
	value   types.Value
	hits    [][]byte
	pos     int
	started bool
}

func NewSecondaryExactScan(tbl *catalog.Table, t *txn.Transaction, column string, value types.Value) *SecondaryExactScan {
	return &SecondaryExactScan{tbl: tbl, txn: t, column: column, value: value}
}

func (s *SecondaryExactScan) Next() (*schema.Row, bool, error) {
	if !s.started {
		s.started = true
		pl, err := s.tbl.Posting(s.column)
		if err != nil {
			return nil, false, err
		}
		encoded, err := schema.EncodeOrderedKey(s.value)
		if err != nil {
			return nil, false, err
		}
		hits, err := pl.Scan(s.txn, encoded)
		if err != nil {
			return nil, false, err
		}
		s.hits = hits
	}
	for s.pos < len(s.hits) {
		pk := s.hits[s.pos]
		s.pos++
		row, found, err := s.tbl.GetByEncodedKey(s.txn, pk, nil)
		if err != nil {
			return nil, false, err
		}
		if found {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (s *SecondaryExactScan) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "SecondaryExactScan", Detail: fmt.Sprintf("%s.%s = %s", s.tbl.Name, s.column, s.value.String())}
}

func (s *SecondaryExactScan) Close() error { return nil }

// PrimaryRangeScan seeks to the range's start and iterates until its end.
type PrimaryRangeScan struct {
	tbl   *catalog.Table
	txn   *txn.Transaction
	start *types.Value
	end   *types.Value
	startInclusive, endInclusive bool

	it      *catalog.RowIterator
	started bool
}

func NewPrimaryRangeScan(tbl *catalog.Table, t *txn.Transaction, start, end *types.Value, startInclusive, endInclusive bool) *PrimaryRangeScan {
	return &PrimaryRangeScan{tbl: tbl, txn: t, start: start, end: end, startInclusive: startInclusive, endInclusive: endInclusive}
}

func (s *PrimaryRangeScan) Next() (*schema.Row, bool, error) {
	if !s.started {
		s.started = true
		var startBytes []byte
		inclusive := true
		if s.start != nil {
			b, err := schema.EncodeOrderedKey(*s.start)
			if err != nil {
				return nil, false, err
			}
			startBytes = b
			inclusive = s.startInclusive
		}
		it, err := s.tbl.ScanFrom(s.txn, startBytes, inclusive)
		if err != nil {
			return nil, false, err
		}
		s.it = it
	}
	for {
		row, ok, err := s.it.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		if s.end != nil {
			endBytes, err := schema.EncodeOrderedKey(*s.end)
			if err != nil {
				return nil, false, err
			}
			c := compareBytes(row.PrimaryKey, endBytes)
			if c > 0 || (c == 0 && !s.endInclusive) {
				return nil, false, nil
			}
		}
		return row, true, nil
	}
}

func (s *PrimaryRangeScan) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "PrimaryRangeScan", Detail: fmt.Sprintf("%s.%s", s.tbl.Name, s.tbl.Schema.Primary().Name)}
}

func (s *PrimaryRangeScan) Close() error {
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

// SecondaryRangeScan iterates a secondary index's posting-list keyspace
// over a value range, fetching each posted primary key's row.
type SecondaryRangeScan struct {
	tbl    *catalog.Table
	txn    *txn.Transaction
	column string
	start  *types.Value
	end    *types.Value
	startInclusive, endInclusive bool

	hits    [][]byte
	pos     int
	started bool
}

func NewSecondaryRangeScan(tbl *catalog.Table, t *txn.Transaction, column string, start, end *types.Value, startInclusive, endInclusive bool) *SecondaryRangeScan {
	return &SecondaryRangeScan{tbl: tbl, txn: t, column: column, start: start, end: end, startInclusive: startInclusive, endInclusive: endInclusive}
}

func (s *SecondaryRangeScan) Next() (*schema.Row, bool, error) {
	if !s.started {
		s.started = true
		pl, err := s.tbl.Posting(s.column)
		if err != nil {
			return nil, false, err
		}
		var startBytes, endBytes []byte
		if s.start != nil {
			startBytes, err = schema.EncodeOrderedKey(*s.start)
			if err != nil {
				return nil, false, err
			}
		}
		if s.end != nil {
			endBytes, err = schema.EncodeOrderedKey(*s.end)
			if err != nil {
				return nil, false, err
			}
		}
		hits, err := pl.ScanRange(s.txn, startBytes, s.startInclusive, endBytes, s.endInclusive)
		if err != nil {
			return nil, false, err
		}
		s.hits = hits
	}
	for s.pos < len(s.hits) {
		pk := s.hits[s.pos]
		s.pos++
		row, found, err := s.tbl.GetByEncodedKey(s.txn, pk, nil)
		if err != nil {
			return nil, false, err
		}
		if found {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (s *SecondaryRangeScan) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "SecondaryRangeScan", Detail: fmt.Sprintf("%s.%s", s.tbl.Name, s.column)}
}

func (s *SecondaryRangeScan) Close() error { return nil }

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
