package keyspace

import (
	"sync"

	"github.com/return2faye/siltsql/internal/cache"
	"github.com/return2faye/siltsql/internal/compaction"
	"github.com/return2faye/siltsql/internal/sstable"
)

// openSSTable bundles an opened SSTable with its own block cache and the
// level it currently lives in, per spec.md §4.7's "per-SSTable" cache
// scoping.
type openSSTable struct {
	id    uint64
	level uint32
	sst   *sstable.SSTable
	cache *cache.BlockCache
	size  int64
}

// levels is the per-keyspace SST bookkeeping: a map from level number to
// the SSTables resident there. A single RWMutex guards every level at
// once; there are no per-level locks.
type levels struct {
	mu              sync.RWMutex
	byLevel         map[uint32][]*openSSTable
	byID            map[uint64]*openSSTable
	cacheBlocksPerSST int
}

func newLevels(cacheBlocksPerSST int) *levels {
	return &levels{byLevel: make(map[uint32][]*openSSTable), byID: make(map[uint64]*openSSTable), cacheBlocksPerSST: cacheBlocksPerSST}
}

func (l *levels) add(id uint64, level uint32, sst *sstable.SSTable, size int64) *openSSTable {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, _ := cache.New(l.cacheBlocksPerSST)
	sst.SetCache(c)
	entry := &openSSTable{id: id, level: level, sst: sst, cache: c, size: size}
	l.byLevel[level] = append(l.byLevel[level], entry)
	l.byID[id] = entry
	return entry
}

func (l *levels) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	files := l.byLevel[e.level]
	for i, f := range files {
		if f.id == id {
			l.byLevel[e.level] = append(files[:i], files[i+1:]...)
			break
		}
	}
	_ = e.sst.Close()
}

// allNewestFirst returns every resident SSTable across all levels, ordered
// level 0 first and within a level newest-added-last-first, matching the
// read precedence spec.md §4.4 describes for memtables and that SSTable
// reads mirror: freshest data wins ties.
func (l *levels) allNewestFirst() []*openSSTable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*openSSTable
	maxLevel := uint32(0)
	for lvl := range l.byLevel {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	for lvl := uint32(0); lvl <= maxLevel; lvl++ {
		files := l.byLevel[lvl]
		for i := len(files) - 1; i >= 0; i-- {
			out = append(out, files[i])
		}
	}
	return out
}

func (l *levels) snapshot() map[uint32][]compaction.FileMeta {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[uint32][]compaction.FileMeta)
	for lvl, files := range l.byLevel {
		for _, f := range files {
			out[lvl] = append(out[lvl], compaction.FileMeta{
				ID: f.id, Level: f.level, SizeBytes: f.size,
				FirstKey: f.sst.FirstKey(), LastKey: f.sst.LastKey(),
			})
		}
	}
	return out
}

// Snapshot implements compaction.LevelsView.
func (l *levels) Snapshot() map[uint32][]compaction.FileMeta { return l.snapshot() }

func (l *levels) get(id uint64) (*openSSTable, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[id]
	return e, ok
}
