package sorter

import (
	"fmt"

	"github.com/spf13/afero"
)

// LessFunc orders two serialized rows for the sort key the planner's
// FullSortStep/TopNSortStep was built against.
type LessFunc func(a, b []byte) bool

// run is one sorted run's row offsets, in order, within a SortFile.
type run struct {
	offsets []int64
}

// Sort spills rows to a pair of alternating scratch files under dir and
// runs the k-way two-file run-merge doubling pass spec.md §4.18
// describes: each initial run is a single row (k=1 page), and each pass
// merges adjacent runs, doubling k, until one run spans the whole file.
// It returns the rows in sorted order.
//
// This accepts the full row set in memory up front rather than streaming
// from a producer, and each merge reads both of its runs back into memory
// before writing the merged run, so the last pass holds every row's bytes
// at once: memory use grows with the total size of the rows.
func Sort(fs afero.Fs, dir string, rows [][]byte, less LessFunc, pageSize int) ([][]byte, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sorter: creating scratch dir %s: %w", dir, err)
	}

	pathA := dir + "/run-a"
	pathB := dir + "/run-b"

	a, err := OpenSortFile(fs, pathA, pageSize)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	b, err := OpenSortFile(fs, pathB, pageSize)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	runs := make([]run, 0, len(rows))
	for _, row := range rows {
		off, err := a.WriteRow(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run{offsets: []int64{off}})
	}

	src, dst := a, b
	for len(runs) > 1 {
		if err := dst.truncateForReuse(fs); err != nil {
			return nil, err
		}
		var merged []run
		for i := 0; i < len(runs); i += 2 {
			if i+1 >= len(runs) {
				// OnlyLeftAvailable: the tail run has no partner this pass,
				// copy it through unchanged.
				r, err := copyRun(src, dst, runs[i], less)
				if err != nil {
					return nil, err
				}
				merged = append(merged, r)
				continue
			}
			r, err := mergeRuns(src, dst, runs[i], runs[i+1], less)
			if err != nil {
				return nil, err
			}
			merged = append(merged, r)
		}
		runs = merged
		src, dst = dst, src
	}

	final := runs[0]
	out := make([][]byte, 0, len(final.offsets))
	for _, off := range final.offsets {
		row, _, err := src.ReadRowBytes(off)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (sf *SortFile) truncateForReuse(fs afero.Fs) error {
	if err := sf.file.Clear(); err != nil {
		return err
	}
	sf.end = 0
	return nil
}

// mergeRuns performs a two-pointer merge of left and right (each already
// internally sorted), writing the merged, still-sorted run into dst.
func mergeRuns(src, dst *SortFile, left, right run, less LessFunc) (run, error) {
	leftRows, err := readAll(src, left)
	if err != nil {
		return run{}, err
	}
	rightRows, err := readAll(src, right)
	if err != nil {
		return run{}, err
	}

	merged := run{offsets: make([]int64, 0, len(leftRows)+len(rightRows))}
	i, j := 0, 0
	for i < len(leftRows) && j < len(rightRows) {
		var next []byte
		if less(rightRows[j], leftRows[i]) {
			next = rightRows[j]
			j++
		} else {
			next = leftRows[i]
			i++
		}
		off, err := dst.WriteRow(next)
		if err != nil {
			return run{}, err
		}
		merged.offsets = append(merged.offsets, off)
	}
	for ; i < len(leftRows); i++ {
		off, err := dst.WriteRow(leftRows[i])
		if err != nil {
			return run{}, err
		}
		merged.offsets = append(merged.offsets, off)
	}
	for ; j < len(rightRows); j++ {
		off, err := dst.WriteRow(rightRows[j])
		if err != nil {
			return run{}, err
		}
		merged.offsets = append(merged.offsets, off)
	}
	return merged, nil
}

func copyRun(src, dst *SortFile, r run, less LessFunc) (run, error) {
	rows, err := readAll(src, r)
	if err != nil {
		return run{}, err
	}
	out := run{offsets: make([]int64, 0, len(rows))}
	for _, row := range rows {
		off, err := dst.WriteRow(row)
		if err != nil {
			return run{}, err
		}
		out.offsets = append(out.offsets, off)
	}
	return out, nil
}

func readAll(sf *SortFile, r run) ([][]byte, error) {
	rows := make([][]byte, 0, len(r.offsets))
	for _, off := range r.offsets {
		row, _, err := sf.ReadRowBytes(off)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
