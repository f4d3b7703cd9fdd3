package compaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/return2faye/siltsql/internal/manifest"
	"github.com/return2faye/siltsql/internal/sstable"
)

// LevelsView is the read side of a keyspace's per-level SST bookkeeping
// that the background task needs to plan a compaction.
type LevelsView interface {
	Snapshot() map[uint32][]FileMeta
}

// Runner owns the per-keyspace background compaction thread: it wakes
// every Frequency, asks Strategy for a plan, and if one exists, merges the
// planned inputs into a fresh SSTable, recording the operation in the
// manifest before running it and marking it complete afterward.
type Runner struct {
	Strategy    Strategy
	Frequency   time.Duration
	Levels      LevelsView
	Manifest    *manifest.Manifest
	OnWriteKey  RollbackFilter
	OpenSSTable func(id uint64) (*sstable.SSTable, error)
	BuildOutput func(task *Task, outputID uint64, merge func(b *sstable.Builder) error) error
	NextID      func() uint64
	Apply       func(task *Task, outputID uint64)
	Logger      *zap.Logger
	Keyspace    string
}

// Run blocks, waking every r.Frequency to check for compaction work, until
// ctx is cancelled. Errors are logged and retried on the next wake rather
// than propagated, per spec.md §7's "compaction errors never propagate to
// user requests" policy.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Frequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	task := r.Strategy.Plan(r.Levels.Snapshot())
	if task == nil {
		return
	}
	if err := r.runTask(task); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("compaction failed, will retry next wake",
				zap.String("keyspace", r.Keyspace), zap.Error(err))
		}
	}
}

func (r *Runner) runTask(task *Task) error {
	inputIDs := make([]uint64, len(task.Inputs))
	for i, f := range task.Inputs {
		inputIDs[i] = f.ID
	}
	outputID := r.NextID()

	opID, err := r.Manifest.AppendOperation(manifest.Content{
		Kind: manifest.KindCompaction,
		Compaction: &manifest.CompactionTask{
			InputSSTableIDs: inputIDs,
			OutputLevel:     task.OutputLevel,
			OutputSSTableID: outputID,
		},
	})
	if err != nil {
		return fmt.Errorf("compaction: recording manifest operation: %w", err)
	}

	if err := r.execute(task, outputID); err != nil {
		return fmt.Errorf("compaction: merging level %d: %w", task.OutputLevel, err)
	}

	if err := r.Manifest.MarkCompleted(opID); err != nil {
		return fmt.Errorf("compaction: marking operation complete: %w", err)
	}
	r.Apply(task, outputID)
	return nil
}

func (r *Runner) execute(task *Task, outputID uint64) error {
	return r.BuildOutput(task, outputID, func(b *sstable.Builder) error {
		sources := make([]*sstable.SSTable, 0, len(task.Inputs))
		for _, f := range task.Inputs {
			s, err := r.OpenSSTable(f.ID)
			if err != nil {
				return err
			}
			sources = append(sources, s)
		}
		defer func() {
			for _, s := range sources {
				_ = s.Close()
			}
		}()
		return Merge(sources, b, r.OnWriteKey)
	})
}

// Resume re-runs a compaction task found pending in the manifest at
// startup (its Completed marker was never written), per spec.md §4.11's
// recovery algorithm.
func Resume(task manifest.CompactionTask, openSSTable func(id uint64) (*sstable.SSTable, error), buildOutput func(outputID uint64, merge func(b *sstable.Builder) error) error, filter RollbackFilter) error {
	sources := make([]*sstable.SSTable, 0, len(task.InputSSTableIDs))
	for _, id := range task.InputSSTableIDs {
		s, err := openSSTable(id)
		if err != nil {
			return err
		}
		sources = append(sources, s)
	}
	defer func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}()
	return buildOutput(task.OutputSSTableID, func(b *sstable.Builder) error {
		return Merge(sources, b, filter)
	})
}
