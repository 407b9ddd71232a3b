// Package blockprocessor turns a chain.Notifier's raw height
// subscription into the ordered NEW_BLOCK / NEW_HEAD event stream
// spec.md §4.2 describes. It is grounded on the teacher's
// MainChainEventHandler (node/sc/main_event_handler.go), whose
// writeChildChainTxHashFromBlock walks forward from the last indexed
// block to the new head filling any gap one block at a time; this
// package walks the same kind of gap but backward, through the parent
// hash, since a watchtower cannot assume it already holds every
// intermediate block the way an indexer holding the canonical chain
// does. Event delivery uses go-ethereum's event.Feed/Subscription, the
// same publish/subscribe primitive node/sc/bridgepeer.go builds its
// peer event loops on.
package blockprocessor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/event"

	"github.com/klaytn-watchtower/pisa/blockcache"
	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/metrics"
)

// NewBlockEvent is emitted once for every block the processor has not
// seen before, oldest first, including blocks filled in to close a gap
// left by a missed notification.
type NewBlockEvent struct {
	Block *chain.Block
}

// NewHeadEvent is emitted once per notified chain tip, after every
// NewBlockEvent needed to reach it has been delivered.
type NewHeadEvent struct {
	Hash   chain.Hash
	Number uint64
}

// Processor subscribes to a Notifier and republishes an ordered,
// gap-filled block stream backed by a blockcache.Cache.
type Processor struct {
	notifier chain.Notifier
	cache    *blockcache.Cache

	blockFeed event.Feed
	headFeed  event.Feed

	maxBackfill uint64
}

// New constructs a Processor. maxBackfill bounds how many blocks a
// single gap-fill walk will fetch before giving up and reporting an
// error, guarding against an unbounded walk when the cache has never
// seen any ancestor of the new head (spec.md §4.2's resync edge case).
func New(notifier chain.Notifier, cache *blockcache.Cache, maxBackfill uint64) *Processor {
	return &Processor{notifier: notifier, cache: cache, maxBackfill: maxBackfill}
}

// SubscribeNewBlock registers a NewBlockEvent subscriber.
func (p *Processor) SubscribeNewBlock(ch chan<- NewBlockEvent) event.Subscription {
	return p.blockFeed.Subscribe(ch)
}

// SubscribeNewHead registers a NewHeadEvent subscriber.
func (p *Processor) SubscribeNewHead(ch chan<- NewHeadEvent) event.Subscription {
	return p.headFeed.Subscribe(ch)
}

// Prime seeds the cache with the current chain head before Run starts,
// so the first notified height has an ancestor to walk back to.
func (p *Processor) Prime(ctx context.Context) error {
	height, err := p.notifier.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("blockprocessor: prime: %w", err)
	}
	b, err := p.notifier.GetBlock(ctx, height)
	if err != nil {
		return fmt.Errorf("blockprocessor: prime: %w", err)
	}
	p.cache.AddBlock(b)
	return p.cache.SetHead(b.Hash, b.Number)
}

// Run subscribes to the notifier and processes new heights until ctx
// is cancelled. It is meant to run on its own goroutine.
func (p *Processor) Run(ctx context.Context) error {
	heights, unsubscribe, err := p.notifier.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("blockprocessor: subscribe: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case height, ok := <-heights:
			if !ok {
				return nil
			}
			if err := p.processHeight(ctx, height); err != nil {
				return err
			}
		}
	}
}

// processHeight fetches the block at height, walks backward filling
// any gap between it and the cache's known chain, then emits
// NewBlockEvent for every newly-seen block (oldest first) followed by
// a single NewHeadEvent.
func (p *Processor) processHeight(ctx context.Context, height uint64) error {
	head, err := p.notifier.GetBlock(ctx, height)
	if err != nil {
		return fmt.Errorf("blockprocessor: fetch head %d: %w", height, err)
	}

	prevHead, _, hadPrevHead := p.cache.Head()

	var fresh []*chain.Block
	cur := head
	for i := uint64(0); ; i++ {
		if p.cache.HasBlock(cur.Hash) {
			break
		}
		fresh = append(fresh, cur)
		if cur.Number == 0 {
			break
		}
		if i >= p.maxBackfill {
			return fmt.Errorf("blockprocessor: gap to block %d exceeds max backfill of %d", cur.Number, p.maxBackfill)
		}
		parent, err := p.notifier.GetBlock(ctx, cur.ParentHash)
		if err != nil {
			return fmt.Errorf("blockprocessor: fetch parent of %d: %w", cur.Number, err)
		}
		cur = parent
	}

	metrics.BackfillMeter.Mark(int64(len(fresh)))
	// cur is the ancestor the backward walk joined the cached chain at.
	// If that isn't the previously known head, the new head diverges
	// from it somewhere below the tip: a reorg.
	if hadPrevHead && cur.Hash != prevHead {
		metrics.ReorgCounter.Inc(1)
	}

	// fresh was built newest-first; emit oldest-first so subscribers
	// observe the chain growing forward.
	for i := len(fresh) - 1; i >= 0; i-- {
		p.cache.AddBlock(fresh[i])
		p.blockFeed.Send(NewBlockEvent{Block: fresh[i]})
	}

	if err := p.cache.SetHead(head.Hash, head.Number); err != nil {
		return fmt.Errorf("blockprocessor: set head: %w", err)
	}
	p.headFeed.Send(NewHeadEvent{Hash: head.Hash, Number: head.Number})
	return nil
}
