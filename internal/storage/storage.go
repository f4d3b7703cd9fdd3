// Package storage implements the multi-keyspace entry point: it vends
// transactions, hosts the transaction manager, and merges values read
// across versions via a user-supplied merge function, per spec.md §4.12.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/return2faye/siltsql/internal/compaction"
	"github.com/return2faye/siltsql/internal/keyspace"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/vfs"
	"github.com/return2faye/siltsql/internal/wal"
)

var ErrUnknownKeyspace = errors.New("storage: unknown keyspace")

// MergeOutcome is the result of folding one more version into an
// accumulated value via a MergeFunc.
type MergeOutcome int

const (
	MergeOK MergeOutcome = iota
	MergeDiscardPreviousKeepNew
	MergeDiscardPreviousAndNew
)

// MergeFunc folds prev (the accumulated value from older versions) with
// next (a newer version of the same user key) into a merged result.
type MergeFunc func(prev, next []byte) ([]byte, MergeOutcome, error)

// defaultMerge keeps only the newest version, discarding everything
// older — the behavior a keyspace with no registered merge function gets.
func defaultMerge([]byte, next []byte) ([]byte, MergeOutcome, error) {
	return next, MergeDiscardPreviousKeepNew, nil
}

// Config is the full set of recognized configuration knobs from spec.md
// §6 that the storage layer itself (as opposed to the CLI/server loading
// them) understands.
type Config struct {
	BasePath                  string
	Durability                wal.Durability
	MemtableMaxSizeBytes      int64
	MaxMemtablesInactive      int
	BlockSizeBytes            int
	BloomFilterNEntries       int
	NCachedBlocksPerSSTable   int
	CompactionStrategy        string // "simple-leveled" | "tiered"
	CompactionTaskFrequencyMs int
	SortPageSizeBytes         int
}

// DefaultConfig returns the tuning defaults spec.md §6 implies.
func DefaultConfig() Config {
	return Config{
		Durability:                wal.Strong,
		MemtableMaxSizeBytes:      4 << 20,
		MaxMemtablesInactive:      4,
		BlockSizeBytes:            4096,
		BloomFilterNEntries:       10000,
		NCachedBlocksPerSSTable:   64,
		CompactionStrategy:        "simple-leveled",
		CompactionTaskFrequencyMs: 1000,
		SortPageSizeBytes:         4096,
	}
}

// Storage hosts keyspaces, the transaction manager, and a temporary-space
// allocator; it is the top-level handle every SQL-layer component receives
// instead of reaching for package-level singletons, per spec.md §9.
type Storage struct {
	fs     afero.Fs
	cfg    Config
	logger *zap.Logger
	txnMgr *txn.Manager
	txnLog *txn.Log

	mu        sync.RWMutex
	keyspaces map[uint64]*keyspace.Keyspace
	mergeFns  map[uint64]MergeFunc
	nextKsID  uint64
	tmpSeq    uint64
}

// Open opens (or creates) a database rooted at cfg.BasePath and replays the
// transaction log. It opens no keyspace: a keyspace's own recovery runs
// when CreateKeyspace opens it, and keyspace ids are allocated from 1 again
// on every Open.
func Open(fs afero.Fs, cfg Config, logger *zap.Logger) (*Storage, error) {
	if err := vfs.EnsureDir(fs, cfg.BasePath); err != nil {
		return nil, err
	}
	logPath := cfg.BasePath + "/transaction-log"
	records, err := txn.ReadAll(fs, logPath)
	if err != nil {
		return nil, err
	}
	log, err := txn.OpenLog(fs, logPath)
	if err != nil {
		return nil, err
	}
	mgr := txn.Recover(log, records, cfg.Durability == wal.Strong)

	return &Storage{
		fs:        fs,
		cfg:       cfg,
		logger:    logger,
		txnMgr:    mgr,
		txnLog:    log,
		keyspaces: make(map[uint64]*keyspace.Keyspace),
		mergeFns:  make(map[uint64]MergeFunc),
		nextKsID:  1,
	}, nil
}

// Mock creates a Storage over an in-memory filesystem, for tests and the
// SQL layer's own unit tests (spec.md §9's "tests inject mocks by
// constructing a Storage::mock").
func Mock() (*Storage, error) {
	return Open(afero.NewMemMapFs(), DefaultConfig(), zap.NewNop())
}

// CreateKeyspaceFlags selects optional per-keyspace behavior at creation
// time.
type CreateKeyspaceFlags struct {
	KeyType types.Type
}

// CreateKeyspace allocates a fresh keyspace id and opens it.
func (s *Storage) CreateKeyspace(flags CreateKeyspaceFlags, merge MergeFunc) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextKsID
	s.nextKsID++

	ks, err := keyspace.Open(s.fs, s.cfg.BasePath, id, s.keyspaceOptions(), s.txnMgr, s.logger)
	if err != nil {
		return 0, err
	}
	ks.StartCompaction(context.Background())
	s.keyspaces[id] = ks
	if merge == nil {
		merge = defaultMerge
	}
	s.mergeFns[id] = merge
	return id, nil
}

func (s *Storage) keyspaceOptions() keyspace.Options {
	strategy := strategyFor(s.cfg.CompactionStrategy)
	return keyspace.Options{
		Durability:                s.cfg.Durability,
		MemtableMaxSizeBytes:      s.cfg.MemtableMaxSizeBytes,
		MaxMemtablesInactive:      s.cfg.MaxMemtablesInactive,
		BlockSizeBytes:            s.cfg.BlockSizeBytes,
		BloomFilterNEntries:       s.cfg.BloomFilterNEntries,
		NCachedBlocksPerSSTable:   s.cfg.NCachedBlocksPerSSTable,
		CompactionStrategy:        strategy,
		CompactionTaskFrequencyMs: s.cfg.CompactionTaskFrequencyMs,
	}
}

func (s *Storage) keyspace(id uint64) (*keyspace.Keyspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.keyspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyspace, id)
	}
	return ks, nil
}

// StartTransaction begins a new transaction at the given isolation level.
func (s *Storage) StartTransaction(level txn.IsolationLevel) *txn.Transaction {
	return s.txnMgr.Start(level)
}

func (s *Storage) Commit(t *txn.Transaction) error   { return s.txnMgr.Commit(t) }
func (s *Storage) Rollback(t *txn.Transaction) error { return s.txnMgr.Rollback(t) }

// Get reads userBytes from keyspace ksID for t.
func (s *Storage) Get(ksID uint64, userBytes []byte, t *txn.Transaction) ([]byte, bool, error) {
	ks, err := s.keyspace(ksID)
	if err != nil {
		return nil, false, err
	}
	return ks.Get(userBytes, t)
}

// Set writes userBytes=value in keyspace ksID under t, marking the write
// in the transaction manager first so crash recovery can account for it.
func (s *Storage) Set(ksID uint64, userBytes, value []byte, t *txn.Transaction) error {
	ks, err := s.keyspace(ksID)
	if err != nil {
		return err
	}
	if err := s.txnMgr.MarkWrite(t); err != nil {
		return err
	}
	return ks.Set(userBytes, value, t)
}

// Delete records a tombstone for userBytes in keyspace ksID under t.
func (s *Storage) Delete(ksID uint64, userBytes []byte, t *txn.Transaction) error {
	ks, err := s.keyspace(ksID)
	if err != nil {
		return err
	}
	if err := s.txnMgr.MarkWrite(t); err != nil {
		return err
	}
	return ks.Delete(userBytes, t)
}

// WriteOp is one operation of a WriteBatch.
type WriteOp struct {
	UserBytes []byte
	Value     []byte // nil/empty means delete
}

// WriteBatch applies every op in ops to keyspace ksID under t, in order.
func (s *Storage) WriteBatch(ksID uint64, ops []WriteOp, t *txn.Transaction) error {
	for _, op := range ops {
		if len(op.Value) == 0 {
			if err := s.Delete(ksID, op.UserBytes, t); err != nil {
				return err
			}
			continue
		}
		if err := s.Set(ksID, op.UserBytes, op.Value, t); err != nil {
			return err
		}
	}
	return nil
}

// CreateTemporarySpace allocates a fresh directory under <root>/tmp for
// the external sorter's spill files, per spec.md §6.
func (s *Storage) CreateTemporarySpace() (string, error) {
	s.mu.Lock()
	s.tmpSeq++
	n := s.tmpSeq
	s.mu.Unlock()
	dir := fmt.Sprintf("%s/tmp/%d", s.cfg.BasePath, n)
	if err := vfs.EnsureDir(s.fs, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Fs exposes the underlying filesystem for components (the external
// sorter) that need to open files directly under a temporary space.
func (s *Storage) Fs() afero.Fs { return s.fs }

func strategyFor(name string) compaction.Strategy {
	if name == "tiered" {
		return compaction.TieredStrategy{Opts: compaction.DefaultTieredOptions()}
	}
	return compaction.SimpleLeveledStrategy{Opts: compaction.DefaultSimpleLeveledOptions()}
}
