// Package gasprice provides a sampled gas price suggestion, the
// collaborator spec.md §4.5 calls "estimator" when it computes
// ideal_gas for a new appointment. Grounded on the classic eth_gasPrice
// oracle shape referenced across the corpus (the percentile-of-recent-
// blocks design the mantle fork's preconf miner config assumes is
// available to callers) rather than on any single teacher file, since
// jeongkyun-oh-klaytn does not itself carry a gas price oracle.
package gasprice

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/metrics"
)

// Estimator proposes an ideal gas price for a new appointment. The
// multi-responder depends on this interface, not on *Oracle directly,
// so tests can supply a fixed-price stub.
type Estimator interface {
	Suggest(ctx context.Context) (*big.Int, error)
}

// Oracle samples the last Window blocks' transaction gas prices and
// suggests the Percentile-th price among them, falling back to the
// notifier's own getGasPrice when no sample is available (e.g. at
// genesis, or once every sampled block turns out empty). It tracks the
// current chain head itself via UpdateHead, called from the block
// processor's NewHeadEvent subscriber, so it satisfies the
// single-argument Estimator interface the multi-responder depends on.
type Oracle struct {
	notifier   chain.Notifier
	cache      blockSource
	window     uint64
	percentile int

	mu   sync.Mutex
	head *chain.Block
}

// blockSource is the subset of blockcache.Cache the oracle needs; kept
// as a narrow interface so the oracle can be unit tested without a
// real cache.
type blockSource interface {
	GetBlock(hash chain.Hash) (*chain.Block, error)
}

// NewOracle constructs an Oracle sampling the last window blocks
// (minimum 1) and suggesting the given percentile (clamped 1-100) of
// their transaction gas prices.
func NewOracle(notifier chain.Notifier, cache blockSource, window uint64, percentile int) *Oracle {
	if window < 1 {
		window = 1
	}
	if percentile < 1 {
		percentile = 1
	}
	if percentile > 100 {
		percentile = 100
	}
	return &Oracle{notifier: notifier, cache: cache, window: window, percentile: percentile}
}

// UpdateHead records the current chain tip Suggest samples backward
// from. Callers feed it every blockprocessor.NewHeadEvent.
func (o *Oracle) UpdateHead(head *chain.Block) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.head = head
}

// Suggest samples backward from the current chain head through Window
// cached ancestors, collecting every transaction's gas price, and
// returns the configured percentile. Samples that find no transactions
// at all fall back to the notifier's getGasPrice.
func (o *Oracle) Suggest(ctx context.Context) (*big.Int, error) {
	o.mu.Lock()
	head := o.head
	o.mu.Unlock()

	if head == nil {
		price, err := o.notifier.GetGasPrice(ctx)
		if err == nil {
			metrics.GasPriceSuggestionGauge.Update(price.Int64())
		}
		return price, err
	}

	var samples []*big.Int
	cur := head
	for i := uint64(0); cur != nil && i < o.window; i++ {
		for _, tx := range cur.Transactions {
			if tx.GasPrice != nil {
				samples = append(samples, tx.GasPrice)
			}
		}
		if cur.Number == 0 {
			break
		}
		parent, err := o.cache.GetBlock(cur.ParentHash)
		if err != nil {
			break
		}
		cur = parent
	}

	if len(samples) == 0 {
		price, err := o.notifier.GetGasPrice(ctx)
		if err == nil {
			metrics.GasPriceSuggestionGauge.Update(price.Int64())
		}
		return price, err
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Cmp(samples[j]) < 0 })
	idx := (len(samples) - 1) * o.percentile / 100
	suggestion := samples[idx]
	metrics.GasPriceSuggestionGauge.Update(suggestion.Int64())
	return new(big.Int).Set(suggestion), nil
}

// Fixed is an Estimator that always returns a caller-supplied price,
// grounded on the teacher's test-fixture style of swapping in a
// constant where a real subsystem would otherwise be required.
type Fixed struct {
	Price *big.Int
}

func (f Fixed) Suggest(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.Price), nil
}
