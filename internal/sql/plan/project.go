package plan

import (
	"strings"

	"github.com/return2faye/siltsql/internal/schema"
)

// ProjectSelectionStep drops every column outside the user's selection.
// BuildSelect adds it whenever the SELECT lists its columns; the scans
// below it always read whole rows.
type ProjectSelectionStep struct {
	source  Step
	columns []uint32
	names   []string
}

func NewProjectSelectionStep(source Step, columns []uint32, names []string) *ProjectSelectionStep {
	return &ProjectSelectionStep{source: source, columns: columns, names: names}
}

func (s *ProjectSelectionStep) Next() (*schema.Row, bool, error) {
	row, ok, err := s.source.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	return row.Project(s.columns), true, nil
}

func (s *ProjectSelectionStep) Desc() PlanStepDesc {
	return PlanStepDesc{Kind: "ProjectSelection", Detail: strings.Join(s.names, ", "), Children: []PlanStepDesc{s.source.Desc()}}
}

func (s *ProjectSelectionStep) Close() error { return s.source.Close() }
