package compaction

import (
	"bytes"
	"container/heap"

	"github.com/return2faye/siltsql/internal/sstable"
)

// RollbackFilter reports whether an entry written by writerTxnID should be
// discarded (the transaction manager's OnWriteKey, called for every entry
// compaction is about to emit, per spec.md §4.9).
type RollbackFilter func(writerTxnID uint64) (discard bool, err error)

type heapItem struct {
	userBytes []byte
	txnID     uint64
	value     []byte
	source    int // index into the iterators slice, used to break ties newest-source-wins
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].userBytes, h[j].userBytes)
	if c != 0 {
		return c < 0
	}
	if h[i].txnID != h[j].txnID {
		return h[i].txnID < h[j].txnID
	}
	return h[i].source < h[j].source
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs the k-way walk over sources' iterators (sources ordered
// oldest-to-newest so that, for equal (userBytes, txnID) pairs across
// duplicate overlapping inputs, the later source in the slice wins ties),
// keeping only the newest txn-id version of each user key and dropping any
// entry filter reports as belonging to a rolled-back transaction. Every
// kept entry is appended to builder in sorted order.
func Merge(sources []*sstable.SSTable, builder *sstable.Builder, filter RollbackFilter) error {
	iters := make([]*sstable.Iterator, len(sources))
	for i, s := range sources {
		iters[i] = s.NewIterator()
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, it := range iters {
		if ub, txnID, val, ok := it.Next(); ok {
			heap.Push(h, heapItem{userBytes: ub, txnID: txnID, value: val, source: i})
		}
	}

	var pendingUser []byte
	var pendingTxnID uint64
	var pendingValue []byte
	havePending := false

	flush := func() error {
		if !havePending {
			return nil
		}
		discard, err := filter(pendingTxnID)
		if err != nil {
			return err
		}
		if !discard {
			builder.Add(pendingUser, pendingTxnID, pendingValue)
		}
		havePending = false
		return nil
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(heapItem)
		if nextUser, nextTxnID, nextVal, ok := iters[top.source].Next(); ok {
			heap.Push(h, heapItem{userBytes: nextUser, txnID: nextTxnID, source: top.source, value: nextVal})
		}

		if havePending && bytes.Equal(pendingUser, top.userBytes) {
			// Newer version of the same user key: the heap yields entries
			// ascending by txn id within a user key (see mergeHeap.Less),
			// so this replaces the pending version.
			pendingTxnID = top.txnID
			pendingValue = top.value
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		pendingUser = append([]byte(nil), top.userBytes...)
		pendingTxnID = top.txnID
		pendingValue = top.value
		havePending = true
	}
	return flush()
}
