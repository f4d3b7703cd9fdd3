package memtable

// RawIterator walks every (userBytes, txnID, value) version stored in the
// memtable in ascending key order, without collapsing duplicate user-bytes
// versions or filtering by visibility. Flush uses this (rather than
// Iterator) because an SSTable must carry forward every version a
// memtable held, including ones written by still-active transactions; the
// memtable's contribution to MVCC visibility lives in the txn id each
// version carries, not in which version Get would have picked.
type RawIterator struct {
	items []item
	pos   int
}

// NewRawIterator returns an iterator over every version in the memtable,
// ascending by (userBytes, txnID).
func (m *Memtable) NewRawIterator() *RawIterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]item, 0, m.tree.Len())
	m.tree.Ascend(func(it item) bool {
		items = append(items, it)
		return true
	})
	return &RawIterator{items: items, pos: -1}
}

// Next returns the next raw version, or ok=false at EOF.
func (it *RawIterator) Next() (userBytes []byte, txnID uint64, value []byte, ok bool) {
	it.pos++
	if it.pos >= len(it.items) {
		return nil, 0, nil, false
	}
	e := it.items[it.pos]
	return e.key.UserBytes, e.key.TxnID, e.value, true
}
