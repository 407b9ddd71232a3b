// Package blockcache implements the bounded, height-pruned block DAG
// described in spec.md §4.1. It is grounded on the teacher's cache
// abstraction (common/cache.go), which wraps hashicorp/golang-lru
// behind a small typed interface rather than reaching for the raw LRU
// cache at every call site; this package keeps that shape but adds the
// ancestry/height bookkeeping the teacher's generic cache never needed.
package blockcache

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/klaytn-watchtower/pisa/chain"
)

// Sentinel errors, in the teacher's package-level error style.
var (
	ErrUnknownBlock  = errors.New("blockcache: block not present in cache")
	ErrUnknownHeight = errors.New("blockcache: no block cached at height")
)

// Cache is the bounded, pruned block DAG of spec.md §4.1. A block
// enters the cache through AddBlock and is retained until it falls
// more than MaxDepth below the current head height, at which point the
// next prune drops it. The cache tracks head by explicit SetHead calls
// rather than inferring it from insertion order, since reorgs can add
// blocks that never become head.
type Cache struct {
	mu sync.RWMutex

	lru *lru.Cache // chain.Hash -> *chain.Block

	maxDepth     uint64
	initialHeight uint64

	head       chain.Hash
	haveHead   bool
	headHeight uint64

	// byHeight indexes hashes known at a given height, for pruning and
	// for the initial-height floor. Entries are removed from here (not
	// just from lru) once pruned, so Len reports an accurate count.
	byHeight map[uint64][]chain.Hash
}

// New builds a Cache bounded to maxDepth blocks behind the current
// head. initialHeight is the height pruning never goes below, mirroring
// the teacher's CacheSize/CacheScale split between a nominal bound and
// a hard floor (common/cache.go's LRUConfig).
func New(maxDepth, initialHeight uint64) (*Cache, error) {
	if maxDepth < 1 {
		return nil, errors.New("blockcache: max depth must be >= 1")
	}
	// golang-lru requires a positive size; a depth-only eviction policy
	// still wants a backing bound generous enough that the LRU itself
	// never evicts before our height-based prune does, so size it well
	// above maxDepth to absorb uncle/reorg siblings at the same height.
	backing, err := lru.New(int(maxDepth)*8 + 16)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru:           backing,
		maxDepth:      maxDepth,
		initialHeight: initialHeight,
		byHeight:      make(map[uint64][]chain.Hash),
	}, nil
}

// AddBlock inserts a block into the cache, indexed by hash and height.
// Re-adding a block already present is a no-op.
func (c *Cache) AddBlock(b *chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addBlockLocked(b)
}

func (c *Cache) addBlockLocked(b *chain.Block) {
	if _, ok := c.lru.Get(b.Hash); ok {
		return
	}
	c.lru.Add(b.Hash, b)
	c.byHeight[b.Number] = append(c.byHeight[b.Number], b.Hash)
}

// HasBlock reports whether a block hash is currently cached.
func (c *Cache) HasBlock(hash chain.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Contains(hash)
}

// GetBlock returns the cached block for hash, if present.
func (c *Cache) GetBlock(hash chain.Hash) (*chain.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lru.Get(hash)
	if !ok {
		return nil, ErrUnknownBlock
	}
	return v.(*chain.Block), nil
}

// SetHead records the current chain tip and prunes any block more than
// MaxDepth below it, per spec.md §4.1's pruning rule:
// min_height = max(initial_height, head_height - max_depth).
func (c *Cache) SetHead(hash chain.Hash, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lru.Contains(hash) {
		return ErrUnknownBlock
	}
	c.head = hash
	c.haveHead = true
	c.headHeight = height
	c.pruneLocked()
	return nil
}

// Head returns the current head hash and height, if one has been set.
func (c *Cache) Head() (hash chain.Hash, height uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head, c.headHeight, c.haveHead
}

func (c *Cache) minHeightLocked() uint64 {
	if !c.haveHead {
		return c.initialHeight
	}
	if c.headHeight <= c.maxDepth {
		return c.initialHeight
	}
	floor := c.headHeight - c.maxDepth
	if floor < c.initialHeight {
		return c.initialHeight
	}
	return floor
}

// MinHeight reports the lowest height the cache currently retains.
func (c *Cache) MinHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minHeightLocked()
}

func (c *Cache) pruneLocked() {
	min := c.minHeightLocked()
	for h, hashes := range c.byHeight {
		if h >= min {
			continue
		}
		for _, hash := range hashes {
			c.lru.Remove(hash)
		}
		delete(c.byHeight, h)
	}
}

// Ancestry walks parent links from hash back to (and including) the
// oldest cached ancestor, stopping at the first parent the cache does
// not hold. It returns the chain newest-first, matching the order a
// caller folds a reorg diff in.
func (c *Cache) Ancestry(hash chain.Hash) []*chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*chain.Block
	cur := hash
	for {
		v, ok := c.lru.Peek(cur)
		if !ok {
			break
		}
		b := v.(*chain.Block)
		out = append(out, b)
		if b.Number == 0 {
			break
		}
		cur = b.ParentHash
	}
	return out
}

// FindAncestor returns the closest common ancestor of a and b that is
// present in the cache, walking both chains back by height until the
// hashes converge. It returns false if the cache does not retain far
// enough back to find one (the caller's cue to resync from genesis or
// a trusted checkpoint, per spec.md §4.1's reorg edge case).
func (c *Cache) FindAncestor(a, b chain.Hash) (*chain.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	av, aok := c.lru.Peek(a)
	bv, bok := c.lru.Peek(b)
	if !aok || !bok {
		return nil, false
	}
	ba := av.(*chain.Block)
	bb := bv.(*chain.Block)

	for ba.Hash != bb.Hash {
		if ba.Number > bb.Number {
			v, ok := c.lru.Peek(ba.ParentHash)
			if !ok {
				return nil, false
			}
			ba = v.(*chain.Block)
			continue
		}
		if bb.Number > ba.Number {
			v, ok := c.lru.Peek(bb.ParentHash)
			if !ok {
				return nil, false
			}
			bb = v.(*chain.Block)
			continue
		}
		va, ok := c.lru.Peek(ba.ParentHash)
		if !ok {
			return nil, false
		}
		vb, ok := c.lru.Peek(bb.ParentHash)
		if !ok {
			return nil, false
		}
		ba = va.(*chain.Block)
		bb = vb.(*chain.Block)
	}
	return ba, true
}

// OldestAncestorInCache returns the oldest block the cache still
// retains on hash's chain, i.e. the last element Ancestry would walk
// to. It is the block a block processor resumes a backward fill from.
func (c *Cache) OldestAncestorInCache(hash chain.Hash) (*chain.Block, bool) {
	ancestry := c.Ancestry(hash)
	if len(ancestry) == 0 {
		return nil, false
	}
	return ancestry[len(ancestry)-1], true
}

// Len reports the number of blocks currently retained.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
