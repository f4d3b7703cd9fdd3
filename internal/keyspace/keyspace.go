// Package keyspace glues the write-ahead log, memtables, SSTables,
// manifest and compaction runner together into one logical key-value
// namespace: get/set/delete/scan over (user_bytes, txn) pairs, per
// spec.md §4.11.
package keyspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/return2faye/siltsql/internal/compaction"
	"github.com/return2faye/siltsql/internal/manifest"
	"github.com/return2faye/siltsql/internal/memtable"
	"github.com/return2faye/siltsql/internal/sstable"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/vfs"
	"github.com/return2faye/siltsql/internal/wal"
)

// Options configures one keyspace's tuning knobs, per spec.md §6.
type Options struct {
	Durability                wal.Durability
	MemtableMaxSizeBytes      int64
	MaxMemtablesInactive      int
	BlockSizeBytes            int
	BloomFilterNEntries       int
	NCachedBlocksPerSSTable   int
	CompactionStrategy        compaction.Strategy
	CompactionTaskFrequencyMs int
}

// readScope adapts a *txn.Transaction to the memtable/sstable ReadScope
// contract; it exists because Transaction already exposes TxnID as a
// field, not a method.
type readScope struct{ t *txn.Transaction }

func (r readScope) TxnID() uint64            { return r.t.TxnID }
func (r readScope) CanRead(writer uint64) bool { return r.t.CanRead(writer) }

// Keyspace owns its memtables, SSTs, manifest, and compaction thread.
type Keyspace struct {
	ID      uint64
	dir     string
	fs      afero.Fs
	opts    Options
	logger  *zap.Logger
	txnMgr  *txn.Manager

	memtables *memtable.Set
	levels    *levels
	manifest  *manifest.Manifest

	nextSSTableID atomic.Uint64

	compactCancel context.CancelFunc
	wg            sync.WaitGroup
}

// Open opens (or creates) the keyspace directory id under root, recovering
// memtables from any WAL files left behind and SSTables and any in-flight
// manifest operations found.
func Open(fs afero.Fs, root string, id uint64, opts Options, txnMgr *txn.Manager, logger *zap.Logger) (*Keyspace, error) {
	dir := fmt.Sprintf("%s/%d", root, id)
	if err := vfs.EnsureDir(fs, dir); err != nil {
		return nil, err
	}

	k := &Keyspace{ID: id, dir: dir, fs: fs, opts: opts, logger: logger, txnMgr: txnMgr, levels: newLevels(opts.NCachedBlocksPerSSTable)}

	if err := k.recoverSSTables(); err != nil {
		return nil, err
	}
	if err := k.recoverMemtables(); err != nil {
		return nil, err
	}

	manifestRecords, err := manifest.ReadAll(fs, dir+"/MANIFEST")
	if err != nil {
		return nil, err
	}
	m, err := manifest.Open(fs, dir+"/MANIFEST", manifest.MaxID(manifestRecords)+1)
	if err != nil {
		return nil, err
	}
	k.manifest = m

	if err := k.resumePending(manifest.Pending(manifestRecords)); err != nil {
		return nil, err
	}
	if err := m.Rewrite(nil); err != nil {
		return nil, err
	}

	return k, nil
}

// StartCompaction launches the background compaction thread; Close (or
// cancelling ctx) stops it.
func (k *Keyspace) StartCompaction(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.compactCancel = cancel
	runner := &compaction.Runner{
		Strategy:    k.opts.CompactionStrategy,
		Frequency:   compactionFrequency(k.opts.CompactionTaskFrequencyMs),
		Levels:      k.levels,
		Manifest:    k.manifest,
		OnWriteKey:  k.txnMgr.OnWriteKey,
		OpenSSTable: k.openSSTableByID,
		BuildOutput: k.buildCompactionOutput,
		NextID:      k.nextSSTableID.Add,
		Apply:       k.applyCompaction,
		Logger:      k.logger,
		Keyspace:    fmt.Sprintf("%d", k.ID),
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		runner.Run(ctx)
	}()
}

// Close stops the compaction thread (if running) and closes every SST's
// file handle; it does not delete anything.
func (k *Keyspace) Close() error {
	if k.compactCancel != nil {
		k.compactCancel()
	}
	k.wg.Wait()
	for _, o := range k.levels.allNewestFirst() {
		_ = o.sst.Close()
	}
	return k.manifest.Close()
}

// Get consults the active and inactive memtables newest-first, then the
// SSTable levels, returning the first readable version found.
func (k *Keyspace) Get(userBytes []byte, t *txn.Transaction) ([]byte, bool, error) {
	scope := readScope{t}
	if v, found, ok := k.memtables.Active().Get(userBytes, scope); ok {
		return v, found, nil
	}
	for _, m := range k.memtables.Inactive() {
		if v, found, ok := m.Get(userBytes, scope); ok {
			return v, found, nil
		}
	}
	for _, o := range k.levels.allNewestFirst() {
		if v, found, ok := o.sst.Get(userBytes, scope); ok {
			return v, found, nil
		}
	}
	return nil, false, nil
}

// Set writes userBytes=value for t. If the active memtable is full, it is
// rotated and the resulting memtable to flush (if any) is flushed
// synchronously before returning, keeping the memtable-set bound.
func (k *Keyspace) Set(userBytes, value []byte, t *txn.Transaction) error {
	return k.write(userBytes, value, t)
}

// Delete records a tombstone for userBytes.
func (k *Keyspace) Delete(userBytes []byte, t *txn.Transaction) error {
	return k.write(userBytes, nil, t)
}

func (k *Keyspace) write(userBytes, value []byte, t *txn.Transaction) error {
	active := k.memtables.Active()
	err := active.Set(userBytes, value, writerAdapter{t})
	if err == memtable.ErrCapacity {
		if rerr := k.rotate(); rerr != nil {
			return rerr
		}
		return k.memtables.Active().Set(userBytes, value, writerAdapter{t})
	}
	return err
}

type writerAdapter struct{ t *txn.Transaction }

func (w writerAdapter) TxnID() uint64 { return w.t.TxnID }

func (k *Keyspace) rotate() error {
	newID := k.memtables.Active().ID + 1
	w, err := wal.Open(k.fs, k.dir, newID, k.opts.Durability)
	if err != nil {
		return err
	}
	toFlush := k.memtables.Rotate(w)
	if toFlush != nil {
		return k.flushMemtable(toFlush)
	}
	return nil
}

// flushMemtable turns m into an SSTable builder, filtering rolled-back
// keys via the transaction manager, and hands it to the manifest-tracked
// flush-to-disk sequence, per spec.md §4.11.
func (k *Keyspace) flushMemtable(m *memtable.Memtable) error {
	sstID := k.nextSSTableID.Add(1)
	opID, err := k.manifest.AppendOperation(manifest.Content{
		Kind:          manifest.KindMemtableFlush,
		MemtableFlush: &manifest.MemtableFlush{MemtableID: m.ID, SSTableID: sstID},
	})
	if err != nil {
		return err
	}
	if err := k.buildFlushOutput(m, sstID); err != nil {
		return err
	}
	if err := k.manifest.MarkCompleted(opID); err != nil {
		return err
	}
	k.memtables.RemoveFlushed(m)
	return nil
}

func (k *Keyspace) buildFlushOutput(m *memtable.Memtable, sstID uint64) error {
	b := sstable.NewBuilder(k.opts.BlockSizeBytes, k.opts.BloomFilterNEntries)
	it := m.NewRawIterator()
	for {
		ub, txnID, v, ok := it.Next()
		if !ok {
			break
		}
		discard, err := k.txnMgr.OnWriteKey(txnID)
		if err != nil {
			return err
		}
		if discard {
			continue
		}
		b.Add(ub, txnID, v)
	}
	for _, id := range m.ActiveTxnIDsWritten() {
		b.MarkActiveTxnID(id)
	}
	path := k.sstablePath(sstID)
	if err := b.Finish(k.fs, path, 0); err != nil {
		return err
	}
	sst, err := sstable.Open(k.fs, path)
	if err != nil {
		return err
	}
	size, _ := fileSize(k.fs, path)
	k.levels.add(sstID, 0, sst, size)
	return nil
}

func (k *Keyspace) sstablePath(id uint64) string {
	return fmt.Sprintf("%s/%d.sst", k.dir, id)
}

func fileSize(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (k *Keyspace) openSSTableByID(id uint64) (*sstable.SSTable, error) {
	return sstable.Open(k.fs, k.sstablePath(id))
}

func (k *Keyspace) buildCompactionOutput(task *compaction.Task, outputID uint64, merge func(b *sstable.Builder) error) error {
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
}

func (k *Keyspace) applyCompaction(task *compaction.Task, outputID uint64) {
	for _, f := range task.Inputs {
		if f.ID == outputID {
			continue
		}
		k.levels.remove(f.ID)
		_ = k.fs.Remove(k.sstablePath(f.ID))
	}
}

func compactionFrequency(ms int) time.Duration {
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

