package keyspace

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/return2faye/siltsql/internal/compaction"
	"github.com/return2faye/siltsql/internal/manifest"
	"github.com/return2faye/siltsql/internal/memtable"
	"github.com/return2faye/siltsql/internal/sstable"
	"github.com/return2faye/siltsql/internal/vfs"
	"github.com/return2faye/siltsql/internal/wal"
)

func sstableID(name string) uint64 {
	idStr := strings.TrimSuffix(name, ".sst")
	id, _ := strconv.ParseUint(idStr, 10, 64)
	return id
}

// recoverSSTables opens every *.sst file in the keyspace directory and
// registers it at the level recorded in its own footer.
func (k *Keyspace) recoverSSTables() error {
	names, err := vfs.ListFiles(k.fs, k.dir, "*.sst")
	if err != nil {
		return err
	}
	var maxID uint64
	for _, name := range names {
		path := k.dir + "/" + name
		sst, err := sstable.Open(k.fs, path)
		if err != nil {
			if k.logger != nil {
				k.logger.Error("skipping unreadable sstable during recovery", zap.Error(err))
			}
			continue
		}
		id := sstableID(name)
		if id > maxID {
			maxID = id
		}
		size, _ := fileSize(k.fs, path)
		k.levels.add(id, sst.Level(), sst, size)
	}
	k.nextSSTableID.Store(maxID)
	return nil
}

// recoverMemtables replays every wal-<memtable_id> file found in the
// keyspace directory into a RecoveringFromWal memtable, then promotes the
// newest one to Active (switching it to write through a fresh append
// handle) and the rest to Inactive, awaiting flush.
func (k *Keyspace) recoverMemtables() error {
	ids, err := wal.Discover(k.fs, k.dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		w, err := wal.Open(k.fs, k.dir, 1, k.opts.Durability)
		if err != nil {
			return err
		}
		k.memtables = memtable.NewSet(memtable.NewWithWAL(1, k.opts.MemtableMaxSizeBytes, w), k.opts.MemtableMaxSizeBytes, k.opts.MaxMemtablesInactive)
		return nil
	}

	recovered := make(map[uint64]*memtable.Memtable, len(ids))
	for _, id := range ids {
		m := memtable.NewRecovering(id, k.opts.MemtableMaxSizeBytes)
		path := k.dir + "/" + wal.Name(id)
		replayErr := wal.ReadEntries(k.fs, path, func(e wal.Entry) error {
			return m.Set(e.Key.UserBytes, e.Value, recoveryWriter{e.Key.TxnID})
		})
		if replayErr != nil && k.logger != nil {
			k.logger.Warn("wal replay stopped early on decode error", zap.Error(replayErr))
		}
		recovered[id] = m
	}

	newest := ids[len(ids)-1]
	w, err := wal.Open(k.fs, k.dir, newest, k.opts.Durability)
	if err != nil {
		return err
	}
	recovered[newest].MarkRecovered(w)

	k.memtables = memtable.NewSet(recovered[newest], k.opts.MemtableMaxSizeBytes, k.opts.MaxMemtablesInactive)
	for _, id := range ids[:len(ids)-1] {
		k.memtables.AdoptRecovered(recovered[id], false)
	}
	return nil
}

// recoveryWriter lets WAL replay insert entries under their original txn
// id without going through the live transaction manager (replay is not
// itself a write the manager needs to durably log again).
type recoveryWriter struct{ txnID uint64 }

func (r recoveryWriter) TxnID() uint64 { return r.txnID }

// resumePending re-drives every in-flight manifest operation found at
// startup, per spec.md §4.11: a MemtableFlush whose sstable id never
// appeared is re-flushed from the still-resident memtable; a Compaction
// whose output never appeared is re-run.
func (k *Keyspace) resumePending(pending []manifest.Record) error {
	for _, rec := range pending {
		switch rec.Content.Kind {
		case manifest.KindMemtableFlush:
			mf := rec.Content.MemtableFlush
			if _, ok := k.levels.get(mf.SSTableID); ok {
				continue
			}
			m := k.findMemtable(mf.MemtableID)
			if m == nil {
				continue
			}
			if err := k.buildFlushOutput(m, mf.SSTableID); err != nil {
				return err
			}
			k.memtables.RemoveFlushed(m)
		case manifest.KindCompaction:
			task := rec.Content.Compaction
			if _, ok := k.levels.get(task.OutputSSTableID); ok {
				continue
			}
			err := compaction.Resume(*task, k.openSSTableByID, func(outputID uint64, merge func(b *sstable.Builder) error) error {
				b := sstable.NewBuilder(k.opts.BlockSizeBytes, k.opts.BloomFilterNEntries)
				if err := merge(b); err != nil {
					return err
				}
				path := k.sstablePath(outputID)
				if err := b.Finish(k.fs, path, task.OutputLevel); err != nil {
					return err
				}
				sst, err := sstable.Open(k.fs, path)
				if err != nil {
					return err
				}
				size, _ := fileSize(k.fs, path)
				k.levels.add(outputID, task.OutputLevel, sst, size)
				return nil
			}, k.txnMgr.OnWriteKey)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (k *Keyspace) findMemtable(id uint64) *memtable.Memtable {
	if k.memtables.Active().ID == id {
		return k.memtables.Active()
	}
	for _, m := range k.memtables.Inactive() {
		if m.ID == id {
			return m
		}
	}
	return nil
}
