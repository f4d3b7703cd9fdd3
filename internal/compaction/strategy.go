// Package compaction implements the pluggable merge strategies (simple
// leveled and tiered) that keep a keyspace's SSTable levels bounded, and
// the k-way merge that actually performs a compaction while honoring the
// transaction manager's rolled-back set.
package compaction

// FileMeta is the level-bookkeeping a strategy needs about one SSTable: no
// block data, just its id, level, size and key range.
type FileMeta struct {
	ID       uint64
	Level    uint32
	SizeBytes int64
	FirstKey []byte
	LastKey  []byte
}

// Task is a planned compaction: merge every file in Inputs into OutputLevel.
type Task struct {
	Inputs      []FileMeta
	OutputLevel uint32
}

// Strategy decides, given the current per-level file sets, whether a
// compaction should run next and which files it should touch.
type Strategy interface {
	Plan(levels map[uint32][]FileMeta) *Task
}

// SimpleLeveledOptions configures SimpleLeveledStrategy.
type SimpleLeveledOptions struct {
	Level0FileNumCompactionTrigger int
	SizeRatio                      float64 // level L compacts into L+1 once size(L) > SizeRatio * size(L+1)
	MaxLevels                      uint32
}

func DefaultSimpleLeveledOptions() SimpleLeveledOptions {
	return SimpleLeveledOptions{Level0FileNumCompactionTrigger: 4, SizeRatio: 10, MaxLevels: 7}
}

// SimpleLeveledStrategy merges all of level L into L+1 either when L0 has
// accumulated enough files, or when any level's total size exceeds
// SizeRatio times the level below it.
type SimpleLeveledStrategy struct {
	Opts SimpleLeveledOptions
}

func (s SimpleLeveledStrategy) Plan(levels map[uint32][]FileMeta) *Task {
	if len(levels[0]) >= s.Opts.Level0FileNumCompactionTrigger {
		return &Task{Inputs: append(append([]FileMeta(nil), levels[0]...), levels[1]...), OutputLevel: 1}
	}
	for l := uint32(1); l < s.Opts.MaxLevels; l++ {
		sizeL := totalSize(levels[l])
		sizeNext := totalSize(levels[l+1])
		if sizeNext == 0 {
			continue
		}
		if float64(sizeL) > s.Opts.SizeRatio*float64(sizeNext) {
			return &Task{Inputs: append(append([]FileMeta(nil), levels[l]...), levels[l+1]...), OutputLevel: l + 1}
		}
	}
	return nil
}

// TieredOptions configures TieredStrategy.
type TieredOptions struct {
	MaxSizeAmplification float64
	SizeRatio            float64
	MaxLevels            uint32
}

func DefaultTieredOptions() TieredOptions {
	return TieredOptions{MaxSizeAmplification: 2.0, SizeRatio: 1.5, MaxLevels: 7}
}

// TieredStrategy treats each level as one "run" and merges all runs
// up to the point where either the cumulative size amplification against
// the last run exceeds MaxSizeAmplification, or the cumulative size ratio
// of the first k runs to the next run exceeds SizeRatio.
type TieredStrategy struct {
	Opts TieredOptions
}

func (s TieredStrategy) Plan(levels map[uint32][]FileMeta) *Task {
	var runs []uint32
	for l := uint32(0); l < s.Opts.MaxLevels; l++ {
		if len(levels[l]) > 0 {
			runs = append(runs, l)
		}
	}
	if len(runs) < 2 {
		return nil
	}

	lastRun := runs[len(runs)-1]
	lastSize := totalSize(levels[lastRun])
	var headSize int64
	for _, l := range runs[:len(runs)-1] {
		headSize += totalSize(levels[l])
	}
	if lastSize > 0 && float64(headSize)/float64(lastSize) > s.Opts.MaxSizeAmplification {
		return mergeRuns(levels, runs, lastRun)
	}

	var cumulative int64
	for i, l := range runs {
		if i == len(runs)-1 {
			break
		}
		cumulative += totalSize(levels[l])
		next := totalSize(levels[runs[i+1]])
		if next == 0 {
			continue
		}
		if float64(cumulative)/float64(next) > s.Opts.SizeRatio {
			return mergeRuns(levels, runs[:i+2], runs[i+1])
		}
	}
	return nil
}

func mergeRuns(levels map[uint32][]FileMeta, runs []uint32, outputLevel uint32) *Task {
	var inputs []FileMeta
	for _, l := range runs {
		inputs = append(inputs, levels[l]...)
	}
	return &Task{Inputs: inputs, OutputLevel: outputLevel}
}

func totalSize(files []FileMeta) int64 {
	var n int64
	for _, f := range files {
		n += f.SizeBytes
	}
	return n
}
