package txn

import (
	"errors"
	"sync"
)

// IsolationLevel selects how a transaction decides whether it can read a
// given entry; spec.md §9 supplements the distilled spec's snapshot
// isolation with the original's read-uncommitted level.
type IsolationLevel uint8

const (
	SnapshotIsolation IsolationLevel = iota + 1
	ReadUncommitted
)

var (
	ErrUnknownTransaction = errors.New("txn: unknown transaction")
	ErrAlreadyClosed      = errors.New("txn: transaction already committed or rolled back")
)

// Transaction is the unit of work a caller opens against a Manager. It
// carries everything a reader needs to decide visibility: its own id, its
// isolation level, and (for snapshot isolation) the set of transactions
// that were active at the moment it started.
type Transaction struct {
	TxnID      uint64
	Isolation  IsolationLevel
	activeSnap map[uint64]struct{}
	nWrites    uint64
	closed     bool
}

// CanRead reports whether an entry written by writerTxnID is visible to t,
// per spec.md §3: under snapshot isolation, writerTxnID must be no newer
// than t and not have been active (uncommitted) when t started; under
// read-uncommitted, only the ordering constraint applies.
func (t *Transaction) CanRead(writerTxnID uint64) bool {
	if writerTxnID == t.TxnID {
		return true
	}
	if writerTxnID > t.TxnID {
		return false
	}
	if t.Isolation == ReadUncommitted {
		return true
	}
	_, wasActive := t.activeSnap[writerTxnID]
	return !wasActive
}

// Manager issues transaction ids and tracks which transactions are active,
// committed, or pending rollback-completion. Every state transition is
// also appended to a Log, fsynced when durability is Strong. Start,
// MarkWrite, Commit and Rollback update the in-memory sets before
// appending; OnWriteKey appends first.
type Manager struct {
	mu sync.Mutex

	log     *Log
	strong  bool
	nextID  uint64
	active  map[uint64]uint64 // txn_id -> n_writes
	rolled  map[uint64]uint64 // txn_id -> n_pending_writes
}

// NewManager creates a Manager backed by log, with an empty active set and
// the next id seeded to 1. Callers that recover from an existing log
// should call Recover instead of (or immediately after) this constructor.
func NewManager(log *Log, strongDurability bool) *Manager {
	return &Manager{
		log:    log,
		strong: strongDurability,
		nextID: 1,
		active: make(map[uint64]uint64),
		rolled: make(map[uint64]uint64),
	}
}

// Start begins a new transaction at the given isolation level, snapshotting
// the current active set for snapshot-isolation visibility checks.
func (m *Manager) Start(level IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	snap := make(map[uint64]struct{}, len(m.active))
	for id := range m.active {
		snap[id] = struct{}{}
	}
	m.active[id] = 0
	_ = m.log.Append(Record{Tag: TagStart, TxnID: id}, m.strong)

	return &Transaction{TxnID: id, Isolation: level, activeSnap: snap}
}

// MarkWrite records that t performed one more write, durably.
func (m *Manager) MarkWrite(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[t.TxnID]; !ok {
		return ErrUnknownTransaction
	}
	m.active[t.TxnID]++
	t.nWrites++
	return m.log.Append(Record{Tag: TagWrite, TxnID: t.TxnID}, m.strong)
}

// Commit removes t from the active set and appends a durable Commit
// record. Commit must be durable before the transaction is considered
// finished, per spec.md §5's ordering guarantees.
func (m *Manager) Commit(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.closed {
		return ErrAlreadyClosed
	}
	if _, ok := m.active[t.TxnID]; !ok {
		return ErrUnknownTransaction
	}
	delete(m.active, t.TxnID)
	t.closed = true
	return m.log.Append(Record{Tag: TagCommit, TxnID: t.TxnID}, m.strong)
}

// Rollback moves t from active to rolled-back, carrying over its pending
// write count; transactions with zero writes are simply dropped (there is
// nothing for flush/compaction to discard on their behalf).
func (m *Manager) Rollback(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.closed {
		return ErrAlreadyClosed
	}
	n, ok := m.active[t.TxnID]
	if !ok {
		return ErrUnknownTransaction
	}
	delete(m.active, t.TxnID)
	t.closed = true
	if err := m.log.Append(Record{Tag: TagStartRollback, TxnID: t.TxnID, NWrites: n}, m.strong); err != nil {
		return err
	}
	if n > 0 {
		m.rolled[t.TxnID] = n
	}
	return nil
}

// IsActive reports whether txnID is currently an open transaction.
func (m *Manager) IsActive(txnID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[txnID]
	return ok
}

// IsRolledBack reports whether txnID is pending rollback completion.
func (m *Manager) IsRolledBack(txnID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rolled[txnID]
	return ok
}

// OnWriteKey is called by flush and compaction for every entry they are
// about to emit into a new SSTable. If the entry's writer is pending
// rollback, it records one RolledbackWrite and tells the caller to discard
// the entry; otherwise it is a no-op and the entry should be kept.
func (m *Manager) OnWriteKey(writerTxnID uint64) (discard bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rolled[writerTxnID]
	if !ok {
		return false, nil
	}
	if err := m.log.Append(Record{Tag: TagRolledbackWrite, TxnID: writerTxnID}, m.strong); err != nil {
		return false, err
	}
	if n <= 1 {
		delete(m.rolled, writerTxnID)
	} else {
		m.rolled[writerTxnID] = n - 1
	}
	return true, nil
}

// NWrites returns how many writes t has recorded so far.
func (m *Manager) NWrites(t *Transaction) uint64 { return t.nWrites }
