package plan

import "github.com/return2faye/siltsql/internal/schema"

// MergeUnionStep implements spec.md §4.17's MergeUnion: rows from left and
// right, round-robined and deduplicated by primary key. Both leaf scans
// feeding a union are not generally co-sorted on the same column (a
// secondary-index scan's output order tracks its posting list, not the
// primary key), so this always runs in the spec's "otherwise" fallback
// mode rather than attempting a sorted merge-join.
type MergeUnionStep struct {
	left, right Step
	seen        map[string]bool
	leftDone    bool
	rightDone   bool
	turn        bool // false = try left next, true = try right next
}

func NewMergeUnionStep(left, right Step) *MergeUnionStep {
	return &MergeUnionStep{left: left, right: right, seen: make(map[string]bool)}
}

func (s *MergeUnionStep) Next() (*schema.Row, bool, error) {
	for !s.leftDone || !s.rightDone {
		var row *schema.Row
		var ok bool
		var err error
		if (!s.turn && !s.leftDone) || s.rightDone {
			row, ok, err = s.left.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				s.leftDone = true
				s.turn = true
				continue
			}
		} else {
			row, ok, err = s.right.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				s.rightDone = true
				s.turn = false
				continue
			}
		}
		s.turn = !s.turn
		key := string(row.PrimaryKey)
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		return row, true, nil
	}
	return nil, false, nil
}

func (s *MergeUnionStep) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "MergeUnion", Children: []PlanStepDesc{s.left.Desc(), s.right.Desc()}}
}

func (s *MergeUnionStep) Close() error {
	if err := s.left.Close(); err != nil {
		return err
	}
	return s.right.Close()
}

// MergeIntersectionStep implements spec.md §4.17's MergeIntersection in
// its unsorted (hash-join) mode: right is buffered into a primary-key set
// up front, then left streams through, emitting only rows whose primary
// key is also present on the right side.
type MergeIntersectionStep struct {
	left, right Step
	rightKeys   map[string]bool
	buffered    bool
}

func NewMergeIntersectionStep(left, right Step) *MergeIntersectionStep {
	return &MergeIntersectionStep{left: left, right: right}
}

func (s *MergeIntersectionStep) Next() (*schema.Row, bool, error) {
	if !s.buffered {
		s.buffered = true
		s.rightKeys = make(map[string]bool)
		for {
			row, ok, err := s.right.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				break
			}
			s.rightKeys[string(row.PrimaryKey)] = true
		}
	}
	for {
		row, ok, err := s.left.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if s.rightKeys[string(row.PrimaryKey)] {
			return row, true, nil
		}
	}
}

func (s *MergeIntersectionStep) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "MergeIntersection", Children: []PlanStepDesc{s.left.Desc(), s.right.Desc()}}
}

func (s *MergeIntersectionStep) Close() error {
	if err := s.left.Close(); err != nil {
		return err
	}
	return s.right.Close()
}
