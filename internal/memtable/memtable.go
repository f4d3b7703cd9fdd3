package memtable

import (
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/utils"
	"github.com/return2faye/siltsql/internal/wal"
)

// ErrCapacity is returned by Set/Delete when the memtable has reached its
// configured size budget; the caller (the memtable set) responds by
// rotating in a fresh memtable and flushing this one.
var ErrCapacity = errors.New("memtable: capacity reached")

// ReadScope is the transaction-shaped view a memtable needs to decide
// whether a given write is visible to a reader: its own txn id (so a
// transaction always sees its own uncommitted writes) and a predicate over
// other transactions' ids.
type ReadScope interface {
	TxnID() uint64
	CanRead(writerTxnID uint64) bool
}

// Writer is the transaction-shaped view a memtable needs to record a write:
// just the writer's own txn id.
type Writer interface {
	TxnID() uint64
}

type item struct {
	key   types.Key
	value []byte
}

func less(a, b item) bool { return a.key.Compare(b.key) < 0 }

// Memtable is a concurrent sorted map keyed by (user_bytes, txn_id), backed
// by a WAL while Active.
type Memtable struct {
	ID uint64

	mu    sync.RWMutex
	tree  *btree.BTreeG[item]
	state atomicState
	log   *wal.Writer

	maxSize     int64
	currentSize int64

	// activeTxnIDsWritten records every still-live transaction that wrote
	// into this memtable; persisted into the SST footer at flush time so a
	// later reader can reconstruct visibility for rows contributed by
	// transactions that were active when the memtable was built.
	activeTxnIDsWritten map[uint64]struct{}
}

// New creates an empty, Active memtable of the given id with no backing
// WAL (used for synthetic/merge memtables). Use NewWithWAL to get the
// durable, keyspace-resident variant.
func New(id uint64, maxSize int64) *Memtable {
	m := &Memtable{
		ID:                  id,
		tree:                btree.NewG(32, less),
		maxSize:             maxSize,
		activeTxnIDsWritten: make(map[uint64]struct{}),
	}
	m.state.Store(StateActive)
	return m
}

// NewWithWAL creates an Active memtable that writes through w.
func NewWithWAL(id uint64, maxSize int64, w *wal.Writer) *Memtable {
	m := New(id, maxSize)
	m.log = w
	return m
}

// NewRecovering creates a memtable in RecoveringFromWal state: it accepts
// writes (from WAL replay) but does not itself append to any log.
func NewRecovering(id uint64, maxSize int64) *Memtable {
	m := &Memtable{
		ID:                  id,
		tree:                btree.NewG(32, less),
		maxSize:             maxSize,
		activeTxnIDsWritten: make(map[uint64]struct{}),
	}
	m.state.Store(StateRecoveringFromWal)
	return m
}

// MarkRecovered transitions a RecoveringFromWal memtable to Active once its
// WAL has been fully replayed.
func (m *Memtable) MarkRecovered(w *wal.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = w
	m.state.Store(StateActive)
}

func (m *Memtable) State() State { return m.state.Load() }

func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSize
}

// ActiveTxnIDsWritten returns the set of transaction ids that wrote into
// this memtable while they were still live.
func (m *Memtable) ActiveTxnIDsWritten() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.activeTxnIDsWritten))
	for id := range m.activeTxnIDsWritten {
		out = append(out, id)
	}
	return out
}

// Set inserts userBytes=value for the given writer's transaction. An empty
// value records a tombstone (delete).
func (m *Memtable) Set(userBytes, value []byte, w Writer) error {
	return m.put(userBytes, value, w)
}

// Delete is Set with an empty value, recording a tombstone.
func (m *Memtable) Delete(userBytes []byte, w Writer) error {
	return m.put(userBytes, nil, w)
}

func (m *Memtable) put(userBytes, value []byte, w Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state.Load()
	if !state.AcceptsWrites() {
		return errors.New("memtable: not accepting writes in state " + state.String())
	}
	added := int64(len(userBytes) + len(value) + 24)
	if m.currentSize+added > m.maxSize && m.currentSize > 0 {
		return ErrCapacity
	}

	key := types.NewKey(utils.CopyBytes(userBytes), w.TxnID())

	if state.WritesThroughWAL() && m.log != nil {
		if err := m.log.AddEntry(key, value); err != nil {
			return err
		}
	}

	m.tree.ReplaceOrInsert(item{key: key, value: utils.CopyBytes(value)})
	m.currentSize += added
	m.activeTxnIDsWritten[w.TxnID()] = struct{}{}
	return nil
}

// Get performs the upper-bound lookup described in spec.md §4.3: it seeks
// to just above (userBytes, scope.TxnID()+1) and walks predecessors sharing
// userBytes until it finds a version the scope can read, or exhausts them.
// ok is false if no readable version exists (the caller should then
// consult older memtables / SSTs).
func (m *Memtable) Get(userBytes []byte, scope ReadScope) (value []byte, found bool, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pivot := item{key: types.NewKey(userBytes, scope.TxnID()+1)}
	var result item
	hit := false
	m.tree.DescendLessOrEqual(pivot, func(it item) bool {
		if !it.key.SameUserBytes(pivot.key) {
			return false
		}
		if it.key.TxnID == scope.TxnID() || scope.CanRead(it.key.TxnID) {
			result = it
			hit = true
			return false
		}
		return true
	})
	if !hit {
		return nil, false, false
	}
	return result.value, !types.IsTombstone(result.value), true
}

// Iterator walks the memtable in key order, skipping versions the given
// scope cannot read.
type Iterator struct {
	m       *Memtable
	scope   ReadScope
	items   []item
	pos     int
	lastKey []byte
}

// NewIterator returns an iterator positioned before the first entry.
func (m *Memtable) NewIterator(scope ReadScope) *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]item, 0, m.tree.Len())
	m.tree.Ascend(func(it item) bool {
		items = append(items, it)
		return true
	})
	return &Iterator{m: m, scope: scope, items: items, pos: -1}
}

// Seek positions the iterator so the next call to Next yields the first
// readable entry at or after bytes (strictly after, if inclusive is false).
func (it *Iterator) Seek(bytes []byte, inclusive bool) {
	for i, e := range it.items {
		c := compareUserBytes(e.key.UserBytes, bytes)
		if c > 0 || (c == 0 && inclusive) {
			it.pos = i - 1
			return
		}
	}
	it.pos = len(it.items)
}

func compareUserBytes(a, b []byte) int {
	return types.NewKey(a, 0).Compare(types.NewKey(b, 0))
}

// Next advances to the next readable, non-tombstone entry distinct from the
// last user key returned, skipping over versions the scope cannot read.
func (it *Iterator) Next() (userBytes, value []byte, ok bool) {
	for {
		it.pos++
		if it.pos >= len(it.items) {
			return nil, nil, false
		}
		cur := it.items[it.pos]
		if it.lastKey != nil && compareUserBytes(cur.key.UserBytes, it.lastKey) == 0 {
			continue
		}
		// Find the newest version of this user key the scope can read by
		// scanning forward through its descending-by-recency run... the
		// underlying tree is ascending by txn id within a user key, so the
		// newest readable version is the last one encountered before the
		// user key changes.
		best := -1
		j := it.pos
		for j < len(it.items) && compareUserBytes(it.items[j].key.UserBytes, cur.key.UserBytes) == 0 {
			if it.items[j].key.TxnID == it.scope.TxnID() || it.scope.CanRead(it.items[j].key.TxnID) {
				best = j
			}
			j++
		}
		it.lastKey = utils.CopyBytes(cur.key.UserBytes)
		it.pos = j - 1
		if best == -1 {
			continue
		}
		v := it.items[best]
		if types.IsTombstone(v.value) {
			continue
		}
		return v.key.UserBytes, v.value, true
	}
}
