package plan

import (
	"container/heap"
	"encoding/binary"
	"fmt"

	"github.com/return2faye/siltsql/internal/schema"
	"github.com/return2faye/siltsql/internal/sql/sorter"
	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/utils"
)

// SortKey describes one ORDER BY clause: the column and direction.
type SortKey struct {
	Column string
	Desc   bool
}

// valueCompare orders (ok, v) pairs the way a sort key does: a missing or
// null value sorts before every present, non-null value; two present
// values fall back to types.Value.Compare.
func valueCompare(aok bool, av types.Value, bok bool, bv types.Value) int {
	aNull := !aok || av.IsNull()
	bNull := !bok || bv.IsNull()
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	c, err := av.Compare(bv)
	if err != nil {
		return 0
	}
	return c
}

// rowLess compares two rows by key.Column, honoring key.Desc by flipping
// the comparison.
func rowLess(sc *schema.Schema, key SortKey) func(a, b *schema.Row) bool {
	col, _ := sc.Column(key.Column)
	return func(a, b *schema.Row) bool {
		av, aok := a.Record.Get(col.ID)
		bv, bok := b.Record.Get(col.ID)
		c := valueCompare(aok, av, bok, bv)
		if key.Desc {
			return c > 0
		}
		return c < 0
	}
}

// serializeRow encodes a row as [u32 pk_len][pk bytes][record bytes], the
// external sorter's row payload format.
func serializeRow(row *schema.Row) []byte {
	rec := row.Record.Serialize()
	out := make([]byte, 4+len(row.PrimaryKey)+len(rec))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(row.PrimaryKey)))
	copy(out[4:], row.PrimaryKey)
	copy(out[4+len(row.PrimaryKey):], rec)
	return out
}

func deserializeRow(b []byte) (*schema.Row, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("plan: sort row too short")
	}
	pkLen := binary.LittleEndian.Uint32(b[0:4])
	if uint32(len(b)) < 4+pkLen {
		return nil, fmt.Errorf("plan: sort row truncated")
	}
	pk := utils.CopyBytes(b[4 : 4+pkLen])
	rec, err := schema.DeserializeRecord(b[4+pkLen:])
	if err != nil {
		return nil, err
	}
	return &schema.Row{PrimaryKey: pk, Record: rec}, nil
}

// FullSortStep buffers every row of source into the external sorter, then
// streams the sorted result, per spec.md §4.17/§4.18.
type FullSortStep struct {
	source Step
	sc     *schema.Schema
	key    SortKey
	s      *storage.Storage

	sorted []*schema.Row
	pos    int
	ran    bool
}

func NewFullSortStep(source Step, sc *schema.Schema, key SortKey, s *storage.Storage) *FullSortStep {
	return &FullSortStep{source: source, sc: sc, key: key, s: s}
}

func (s *FullSortStep) run() error {
	s.ran = true
	col, ok := s.sc.Column(s.key.Column)
	if !ok {
		return fmt.Errorf("plan: unknown sort column %s", s.key.Column)
	}
	var rows []*schema.Row
	for {
		row, ok, err := s.source.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	dir, err := s.s.CreateTemporarySpace()
	if err != nil {
		return err
	}
	encoded := make([][]byte, len(rows))
	for i, r := range rows {
		encoded[i] = serializeRow(r)
	}
	less := func(a, b []byte) bool {
		ra, errA := deserializeRow(a)
		rb, errB := deserializeRow(b)
		if errA != nil || errB != nil {
			return false
		}
		av, aok := ra.Record.Get(col.ID)
		bv, bok := rb.Record.Get(col.ID)
		c := valueCompare(aok, av, bok, bv)
		if s.key.Desc {
			return c > 0
		}
		return c < 0
	}
	sortedBytes, err := sorter.Sort(s.s.Fs(), dir, encoded, less, 4096)
	if err != nil {
		return err
	}
	out := make([]*schema.Row, len(sortedBytes))
	for i, b := range sortedBytes {
		row, err := deserializeRow(b)
		if err != nil {
			return err
		}
		out[i] = row
	}
	s.sorted = out
	return nil
}

func (s *FullSortStep) Next() (*schema.Row, bool, error) {
	if !s.ran {
		if err := s.run(); err != nil {
			return nil, false, err
		}
	}
	if s.pos >= len(s.sorted) {
		return nil, false, nil
	}
	row := s.sorted[s.pos]
	s.pos++
	return row, true, nil
}

func (s *FullSortStep) Desc() PlanStepDesc {
	dir := "asc"
	if s.key.Desc {
		dir = "desc"
	}
	return PlanStepDesc{Kind: "FullSort", Detail: s.key.Column + " " + dir, Children: []PlanStepDesc{s.source.Desc()}}
}

func (s *FullSortStep) Close() error { return s.source.Close() }

// TopNSortStep keeps only the top n rows by key using a bounded heap, per
// spec.md §4.17.
type TopNSortStep struct {
	source Step
	sc     *schema.Schema
	key    SortKey
	n      int

	out []*schema.Row
	pos int
	ran bool
}

func NewTopNSortStep(source Step, sc *schema.Schema, key SortKey, n int) *TopNSortStep {
	return &TopNSortStep{source: source, sc: sc, key: key, n: n}
}

type rowHeap struct {
	rows []*schema.Row
	less func(a, b *schema.Row) bool
}

func (h rowHeap) Len() int      { return len(h.rows) }
func (h rowHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }

// Less makes the root the worst-ranked row currently kept (so it is the
// one evicted first), i.e. the inverse of the requested sort direction.
func (h rowHeap) Less(i, j int) bool { return !h.less(h.rows[i], h.rows[j]) }

func (h *rowHeap) Push(x interface{}) { h.rows = append(h.rows, x.(*schema.Row)) }
func (h *rowHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

func (s *TopNSortStep) run() error {
	s.ran = true
	less := rowLess(s.sc, s.key)
	h := &rowHeap{less: less}
	heap.Init(h)
	for {
		row, ok, err := s.source.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if s.n <= 0 {
			continue
		}
		if h.Len() < s.n {
			heap.Push(h, row)
			continue
		}
		if less(row, h.rows[0]) {
			heap.Pop(h)
			heap.Push(h, row)
		}
	}
	out := make([]*schema.Row, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(*schema.Row)
	}
	s.out = out
	return nil
}

func (s *TopNSortStep) Next() (*schema.Row, bool, error) {
	if !s.ran {
		if err := s.run(); err != nil {
			return nil, false, err
		}
	}
	if s.pos >= len(s.out) {
		return nil, false, nil
	}
	row := s.out[s.pos]
	s.pos++
	return row, true, nil
}

func (s *TopNSortStep) Desc() PlanStepDesc {
	dir := "asc"
	if s.key.Desc {
		dir = "desc"
	}
	return PlanStepDesc{Kind: "TopNSort", Detail: fmt.Sprintf("%s %s, n=%d", s.key.Column, dir, s.n), Children: []PlanStepDesc{s.source.Desc()}}
}

func (s *TopNSortStep) Close() error { return s.source.Close() }
