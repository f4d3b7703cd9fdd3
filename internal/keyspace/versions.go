package keyspace

import (
	"sort"

	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/utils"
)

// VersionGroup is every version of one user key a scan found, ordered
// oldest to newest (deepest SST level first, active memtable last), the
// order spec.md §4.12's merge fold expects.
type VersionGroup struct {
	UserBytes []byte
	Versions  [][]byte
}

// ScanVersions walks every source (SST levels oldest-to-newest, then
// inactive memtables oldest-to-newest, then the active memtable) at or
// after start and groups every readable version by user key without
// collapsing them, so a caller (internal/storage) can fold them through a
// user-supplied merge function.
func (k *Keyspace) ScanVersions(t *txn.Transaction, start []byte, inclusive bool) []VersionGroup {
	scope := readScope{t}
	groups := make(map[string]*VersionGroup)
	var order []string

	append_ := func(ub, v []byte) {
		key := string(ub)
		g, ok := groups[key]
		if !ok {
			g = &VersionGroup{UserBytes: utils.CopyBytes(ub)}
			groups[key] = g
			order = append(order, key)
		}
		g.Versions = append(g.Versions, v)
	}

	// SST levels, highest-numbered (oldest) level first, oldest file within
	// a level first.
	levelNums := make([]uint32, 0)
	k.levels.mu.RLock()
	for lvl := range k.levels.byLevel {
		levelNums = append(levelNums, lvl)
	}
	sort.Slice(levelNums, func(i, j int) bool { return levelNums[i] > levelNums[j] })
	var sources []*openSSTable
	for _, lvl := range levelNums {
		sources = append(sources, k.levels.byLevel[lvl]...)
	}
	k.levels.mu.RUnlock()

	for _, o := range sources {
		it := o.sst.NewIterator()
		if start != nil {
			it.Seek(start, inclusive)
		} else {
			it.Seek(nil, true)
		}
		for {
			ub, txnID, v, ok := it.Next()
			if !ok {
				break
			}
			if txnID == scope.TxnID() || scope.CanRead(txnID) {
				append_(ub, v)
			}
		}
	}

	inactive := k.memtables.Inactive()
	for i := len(inactive) - 1; i >= 0; i-- {
		m := inactive[i]
		it := m.NewIterator(scope)
		if start != nil {
			it.Seek(start, inclusive)
		}
		for {
			ub, v, ok := it.Next()
			if !ok {
				break
			}
			append_(ub, v)
		}
	}

	active := k.memtables.Active().NewIterator(scope)
	if start != nil {
		active.Seek(start, inclusive)
	}
	for {
		ub, v, ok := active.Next()
		if !ok {
			break
		}
		append_(ub, v)
	}

	sort.Strings(order)
	out := make([]VersionGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out
}
