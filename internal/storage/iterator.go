package storage

import (
	"github.com/return2faye/siltsql/internal/keyspace"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/types"
)

// StorageEngineIterator wraps a keyspace's multi-version scan and folds
// the user-supplied merge function across every group of versions sharing
// a user key, per spec.md §4.12: for the ordered group [v1, v2, v3, ...]
// (oldest to newest), prev = merge(prev, next) is folded left to right.
type StorageEngineIterator struct {
	groups []keyspace.VersionGroup
	merge  MergeFunc
	pos    int

	standalone bool
	txn        *txn.Transaction
	commitOnce func(*txn.Transaction) error
}

// ScanAll returns an iterator over every key in keyspace ksID, using t's
// snapshot (or an implicit standalone transaction if t is nil, which is
// committed when the iterator is closed, per spec.md §4.12).
func (s *Storage) ScanAll(ksID uint64, t *txn.Transaction) (*StorageEngineIterator, error) {
	return s.scanFrom(ksID, t, nil, true)
}

// ScanFrom returns an iterator over every key at or after key (inclusive
// controls whether key itself is included).
func (s *Storage) ScanFrom(ksID uint64, key []byte, inclusive bool, t *txn.Transaction) (*StorageEngineIterator, error) {
	return s.scanFrom(ksID, t, key, inclusive)
}

func (s *Storage) scanFrom(ksID uint64, t *txn.Transaction, start []byte, inclusive bool) (*StorageEngineIterator, error) {
	standalone := false
	if t == nil {
		t = s.txnMgr.Start(txn.SnapshotIsolation)
		standalone = true
	}
	ks, err := s.keyspace(ksID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	merge := s.mergeFns[ksID]
	s.mu.RUnlock()
	if merge == nil {
		merge = defaultMerge
	}

	return &StorageEngineIterator{
		groups:     ks.ScanVersions(t, start, inclusive),
		merge:      merge,
		pos:        -1,
		standalone: standalone,
		txn:        t,
		commitOnce: s.txnMgr.Commit,
	}, nil
}

// Next returns the next (userBytes, value) pair after folding every
// version sharing that key through the merge function, skipping the
// result if it folds down to the tombstone.
func (it *StorageEngineIterator) Next() (userBytes, value []byte, ok bool) {
	for {
		it.pos++
		if it.pos >= len(it.groups) {
			return nil, nil, false
		}
		g := it.groups[it.pos]
		if len(g.Versions) == 0 {
			continue
		}
		acc := g.Versions[0]
		for _, next := range g.Versions[1:] {
			merged, outcome, err := it.merge(acc, next)
			if err != nil {
				continue
			}
			switch outcome {
			case MergeDiscardPreviousAndNew:
				acc = nil
			case MergeDiscardPreviousKeepNew:
				acc = next
			default:
				acc = merged
			}
		}
		if types.IsTombstone(acc) {
			continue
		}
		return g.UserBytes, acc, true
	}
}

// Close releases the iterator; if it was created standalone (an implicit
// transaction), that transaction is committed now, per spec.md §4.12.
func (it *StorageEngineIterator) Close() error {
	if it.standalone {
		return it.commitOnce(it.txn)
	}
	return nil
}
