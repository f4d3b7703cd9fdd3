// Package cache implements the per-SSTable bounded block cache: a
// least-recently-used map from block index to decoded block bytes.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// BlockCache is a per-SSTable LRU cache bounded by n_cached_blocks_per_sstable.
// Lookup and insertion are serialized by the underlying LRU's own mutex.
type BlockCache struct {
	lru *lru.Cache[int, []byte]
}

// New creates a cache holding up to capacity decoded blocks.
func New(capacity int) (*BlockCache, error) {
	if capacity < 1 {
		capacity = 1
	}
	l, err := lru.New[int, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &BlockCache{lru: l}, nil
}

// Get returns the cached raw block bytes for blockIndex, if present.
func (c *BlockCache) Get(blockIndex int) ([]byte, bool) {
	return c.lru.Get(blockIndex)
}

// Put caches raw as the decoded contents of blockIndex, evicting the least
// recently used entry if the cache is full.
func (c *BlockCache) Put(blockIndex int, raw []byte) {
	c.lru.Add(blockIndex, raw)
}

// Len returns the number of blocks currently cached.
func (c *BlockCache) Len() int { return c.lru.Len() }

// Purge evicts every cached block, used when an SSTable is superseded by
// compaction.
func (c *BlockCache) Purge() { c.lru.Purge() }
