package txn

// Recover replays every record in log (via the records already read by
// ReadAll) to reconstruct the active and rolled-back sets, per spec.md
// §4.8. After replay, next_txn_id is set to max_seen+1, any still-active
// transaction with no writes is finalized as
// RolledbackActiveTransactionFailure, and the log is rewritten with a
// compact equivalent set of records.
func Recover(log *Log, records []Record, strongDurability bool) *Manager {
	m := &Manager{
		log:    log,
		strong: strongDurability,
		nextID: 1,
		active: make(map[uint64]uint64),
		rolled: make(map[uint64]uint64),
	}

	var maxSeen uint64
	for _, r := range records {
		if r.TxnID > maxSeen {
			maxSeen = r.TxnID
		}
		switch r.Tag {
		case TagStart:
			m.active[r.TxnID] = 0
		case TagWrite:
			m.active[r.TxnID]++
		case TagCommit:
			delete(m.active, r.TxnID)
		case TagStartRollback:
			n := m.active[r.TxnID]
			delete(m.active, r.TxnID)
			if n > 0 {
				m.rolled[r.TxnID] = n
			}
		case TagRolledbackWrite:
			if n, ok := m.rolled[r.TxnID]; ok {
				if n <= 1 {
					delete(m.rolled, r.TxnID)
				} else {
					m.rolled[r.TxnID] = n - 1
				}
			}
		case TagRolledbackActiveTransactionFailure:
			delete(m.active, r.TxnID)
			delete(m.rolled, r.TxnID)
		}
	}
	m.nextID = maxSeen + 1

	// Any still-active transaction with no writes never committed or
	// rolled back cleanly (the crash interrupted it before either log
	// entry); finalize it as a failed rollback so it never reappears as
	// "active" to a future reader.
	var finalized []uint64
	for id, n := range m.active {
		if n == 0 {
			finalized = append(finalized, id)
		}
	}
	for _, id := range finalized {
		delete(m.active, id)
	}

	compact := compactRecords(m, finalized)
	_ = m.log.Rewrite(compact)
	for _, id := range finalized {
		_ = m.log.Append(Record{Tag: TagRolledbackActiveTransactionFailure, TxnID: id}, strongDurability)
	}

	return m
}

// compactRecords builds the equivalent minimal record set spec.md §4.8
// describes: Write x n_writes then StartRollback for each pending
// rollback, and Write x n_writes for each still-active transaction.
func compactRecords(m *Manager, finalizedAsFailed []uint64) []Record {
	var out []Record
	for id, n := range m.active {
		out = append(out, Record{Tag: TagStart, TxnID: id})
		for i := uint64(0); i < n; i++ {
			out = append(out, Record{Tag: TagWrite, TxnID: id})
		}
	}
	for id, n := range m.rolled {
		out = append(out, Record{Tag: TagStart, TxnID: id})
		for i := uint64(0); i < n; i++ {
			out = append(out, Record{Tag: TagWrite, TxnID: id})
		}
		out = append(out, Record{Tag: TagStartRollback, TxnID: id, NWrites: n})
	}
	return out
}

// FinalizeOrphanedWrites finalizes every still-rolled-back transaction
// whose id is not in liveTxnIDs (the transactions with writes left in some
// memtable or SST): such a transaction's pending-write count can never be
// decremented by OnWriteKey, so it is dropped from the rolled-back set and
// logged as RolledbackActiveTransactionFailure. Nothing in this repository
// calls it; Storage.Open and keyspace recovery collect no live transaction
// ids, so a rolled-back transaction recovered from the log stays in the
// rolled-back set until OnWriteKey has seen all of its pending writes.
func (m *Manager) FinalizeOrphanedWrites(liveTxnIDs map[uint64]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.rolled {
		if _, stillLive := liveTxnIDs[id]; !stillLive {
			delete(m.rolled, id)
			_ = m.log.Append(Record{Tag: TagRolledbackActiveTransactionFailure, TxnID: id}, m.strong)
		}
	}
}
