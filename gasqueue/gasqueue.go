// Package gasqueue implements the nonce-consecutive, dual-ordered
// transaction queue described in spec.md §4.4. It is grounded on the
// teacher's nonce-sorted per-account structure
// (node/sc/bridge_tx_pool.go's bridgeTxSortedMap) and on
// mantlenetworkio-op-geth's ordered transaction sets
// (preconf/fifo_tx_set.go, preconf/timed_tx_set.go), reworked into an
// immutable value type: every operation here returns a new queue and
// never mutates its receiver.
package gasqueue

import (
	"errors"
	"math/big"

	"github.com/klaytn-watchtower/pisa/chain"
)

// Sentinel argument errors, in the teacher's ErrKnownTx/ErrUnknownTx
// style (node/sc/bridge_tx_pool.go).
var (
	ErrDepthExceeded     = errors.New("gasqueue: max depth reached")
	ErrUnknownIdentifier = errors.New("gasqueue: identifier not in queue")
	ErrDuplicateNonce    = errors.New("gasqueue: duplicate or overlapping nonce on prepend")
	ErrInvalidPrepend    = errors.New("gasqueue: prepend items must have nonces below the queue's lowest nonce")
)

// Request is the minimum price at which an item wants to be mined
// (spec.md §3, "Gas Queue Item Request").
type Request struct {
	AppointmentID chain.Hash
	Identifier    chain.Identifier
	IdealGasPrice *big.Int
	ResponseData  []byte
}

// Item is a request placed at a specific nonce and current asking
// price (spec.md §3, "Gas Queue Item"). Invariant: NonceGasPrice >=
// IdealGasPrice, enforced by every constructor below.
type Item struct {
	Request       Request
	NonceGasPrice *big.Int
	IdealGasPrice *big.Int
	Nonce         uint64
}

// Queue is an immutable, nonce-consecutive priority queue. The zero
// value is not valid; use New.
type Queue struct {
	items                  []Item // nonce ascending == ideal gas price descending
	emptyNonce             uint64
	replacementRatePercent uint64
	maxDepth               uint64
}

// New constructs an empty queue at the given starting nonce.
func New(emptyNonce, replacementRatePercent, maxDepth uint64) (*Queue, error) {
	if replacementRatePercent < 1 {
		return nil, errors.New("gasqueue: replacement_rate_percent must be >= 1")
	}
	if maxDepth < 1 {
		return nil, errors.New("gasqueue: max_depth must be >= 1")
	}
	return &Queue{
		emptyNonce:             emptyNonce,
		replacementRatePercent: replacementRatePercent,
		maxDepth:               maxDepth,
	}, nil
}

// FromItems reconstructs a Queue from previously-serialised items,
// validating every invariant before returning it (spec.md §6's
// gas-queue serialisation contract: deserialise(serialise(q)) == q).
// It is the responder store's deserialisation entry point.
func FromItems(items []Item, emptyNonce, replacementRatePercent, maxDepth uint64) (*Queue, error) {
	q, err := New(emptyNonce, replacementRatePercent, maxDepth)
	if err != nil {
		return nil, err
	}
	q.items = append([]Item(nil), items...)
	if err := q.CheckInvariants(); err != nil {
		return nil, err
	}
	return q, nil
}

// Len returns the number of items in the queue.
func (q *Queue) Len() int { return len(q.items) }

// EmptyNonce is the nonce the next brand-new item would occupy.
func (q *Queue) EmptyNonce() uint64 { return q.emptyNonce }

// ReplacementRatePercent is the minimum percentage price bump the chain
// requires to replace a pending transaction at a given nonce.
func (q *Queue) ReplacementRatePercent() uint64 { return q.replacementRatePercent }

// MaxDepth is the configured bound on outstanding items.
func (q *Queue) MaxDepth() uint64 { return q.maxDepth }

// Items returns a defensive copy of the queue's items, nonce ascending.
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// DepthReached reports whether the queue is at its configured maximum.
func (q *Queue) DepthReached() bool {
	return uint64(len(q.items)) >= q.maxDepth
}

// Head returns the lowest-nonce item, or false if the queue is empty.
func (q *Queue) Head() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Contains reports whether an item with the given identifier is queued.
func (q *Queue) Contains(id chain.Identifier) bool {
	_, ok := q.indexOf(id)
	return ok
}

func (q *Queue) indexOf(id chain.Identifier) (int, bool) {
	for i, it := range q.items {
		if it.Request.Identifier.Equal(id) {
			return i, true
		}
	}
	return -1, false
}

// bump computes ceil(price * (100+rate)/100), floored at least.
func bump(price *big.Int, ratePercent uint64) *big.Int {
	num := new(big.Int).Mul(price, big.NewInt(int64(100+ratePercent)))
	denom := big.NewInt(100)
	q, r := new(big.Int).QuoRem(num, denom, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// clone returns a shallow copy of the backing slice so in-place index
// mutation below never touches the receiver's storage.
func (q *Queue) clone() []Item {
	return append([]Item(nil), q.items...)
}

func (q *Queue) withItems(items []Item) *Queue {
	return &Queue{
		items:                  items,
		emptyNonce:             q.emptyNonce,
		replacementRatePercent: q.replacementRatePercent,
		maxDepth:               q.maxDepth,
	}
}

// Add inserts a request preserving the nonce/price invariants of
// spec.md §3, per the shift-and-bump algorithm of spec.md §4.4.
func (q *Queue) Add(req Request) (*Queue, error) {
	if q.DepthReached() {
		return nil, ErrDepthExceeded
	}

	items := q.clone()

	// Find the first index k where req's ideal price beats items[k]'s.
	k := len(items)
	for i, it := range items {
		if req.IdealGasPrice.Cmp(it.IdealGasPrice) > 0 {
			k = i
			break
		}
	}

	if k == len(items) {
		// Lower than (or equal to) everything: append at the tail.
		items = append(items, Item{
			Request:       req,
			NonceGasPrice: new(big.Int).Set(req.IdealGasPrice),
			IdealGasPrice: new(big.Int).Set(req.IdealGasPrice),
			Nonce:         q.emptyNonce,
		})
		nq := q.withItems(items)
		nq.emptyNonce = q.emptyNonce + 1
		return nq, nil
	}

	// Shift items[k:] right by one nonce slot, carrying each slot's old
	// request forward and bumping its nonce price.
	out := make([]Item, len(items)+1)
	copy(out[:k], items[:k])

	// Walk forward from k; each shifted item moves up one nonce and its
	// own nonce price is bumped by the replacement rate.
	prevNonceGas := items[k].NonceGasPrice
	prevIdeal := items[k].IdealGasPrice
	out[k+1] = Item{
		Request:       items[k].Request,
		IdealGasPrice: items[k].IdealGasPrice,
		NonceGasPrice: maxBig(bump(prevNonceGas, q.replacementRatePercent), prevIdeal),
		Nonce:         items[k].Nonce + 1,
	}
	for i := k + 1; i < len(items); i++ {
		prevNonceGas = items[i].NonceGasPrice
		prevIdeal = items[i].IdealGasPrice
		out[i+1] = Item{
			Request:       items[i].Request,
			IdealGasPrice: items[i].IdealGasPrice,
			NonceGasPrice: maxBig(bump(prevNonceGas, q.replacementRatePercent), prevIdeal),
			Nonce:         items[i].Nonce + 1,
		}
	}

	out[k] = Item{
		Request:       req,
		IdealGasPrice: new(big.Int).Set(req.IdealGasPrice),
		NonceGasPrice: maxBig(bump(items[k].NonceGasPrice, q.replacementRatePercent), req.IdealGasPrice),
		Nonce:         items[k].Nonce,
	}

	nq := q.withItems(out)
	nq.emptyNonce = out[len(out)-1].Nonce + 1
	return nq, nil
}

// Consume removes the item with the given identifier, compacting lower
// nonces up to take its place and bumping their prices, per spec.md
// §4.4's consume algorithm. Used when the chain mines an item that is
// not at the queue's head.
func (q *Queue) Consume(id chain.Identifier) (*Queue, error) {
	i, ok := q.indexOf(id)
	if !ok {
		return nil, ErrUnknownIdentifier
	}

	items := q.clone()
	out := make([]Item, len(items)-1)

	if i == 0 {
		copy(out, items[1:])
		nq := q.withItems(out)
		return nq, nil
	}

	// items[0:i] each take over the next slot's nonce with a bumped
	// price, landing at the same output index j (the vacated nonce-0
	// slot disappears once the head is dropped). items[i+1:] are
	// untouched and land right after.
	for j := 0; j < i; j++ {
		out[j] = Item{
			Request:       items[j].Request,
			IdealGasPrice: items[j].IdealGasPrice,
			NonceGasPrice: maxBig(bump(items[j].NonceGasPrice, q.replacementRatePercent), items[j].IdealGasPrice),
			Nonce:         items[j+1].Nonce,
		}
	}
	copy(out[i:], items[i+1:])

	nq := q.withItems(out)
	return nq, nil
}

// Dequeue drops the head without bumping any other item's price: used
// when the head was mined exactly at its current nonce.
func (q *Queue) Dequeue() (*Queue, error) {
	if len(q.items) == 0 {
		return nil, ErrUnknownIdentifier
	}
	return q.withItems(q.clone()[1:]), nil
}

// Prepend reintroduces items whose nonces are strictly below every
// nonce currently in the queue (e.g. after a nonce-resetting reorg),
// per spec.md §4.4. It fails if the result would exceed MaxDepth or if
// any nonce collides.
func (q *Queue) Prepend(lower []Item) (*Queue, error) {
	if len(lower) == 0 {
		return q, nil
	}

	lowest := q.emptyNonce
	if len(q.items) > 0 {
		lowest = q.items[0].Nonce
	}
	for _, it := range lower {
		if it.Nonce >= lowest {
			return nil, ErrInvalidPrepend
		}
	}

	merged := append(append([]Item(nil), lower...), q.items...)
	sortByNonce(merged)

	for i := 1; i < len(merged); i++ {
		if merged[i].Nonce != merged[i-1].Nonce+1 {
			return nil, ErrDuplicateNonce
		}
	}

	if uint64(len(merged)) > q.maxDepth {
		return nil, ErrDepthExceeded
	}

	// Reconcile: nonce-ascending order must also be ideal-gas-price
	// descending. Where it isn't, replace the offending slot's asking
	// price with a replacement-rate bump over its predecessor, exactly
	// as a fresh Add would have priced it in.
	for i := 1; i < len(merged); i++ {
		if merged[i].IdealGasPrice.Cmp(merged[i-1].IdealGasPrice) > 0 {
			merged[i].NonceGasPrice = maxBig(
				bump(merged[i-1].NonceGasPrice, q.replacementRatePercent),
				merged[i].IdealGasPrice,
			)
		}
	}

	return q.withItems(merged), nil
}

func sortByNonce(items []Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Nonce < items[j-1].Nonce; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// Difference returns the items present in q but absent from other,
// compared by (nonce, identifier, nonce_gas_price) so a price-only
// bump (e.g. from Prepend's reconciliation pass) still counts as a
// difference worth rebroadcasting.
func (q *Queue) Difference(other *Queue) []Item {
	otherItems := make(map[uint64]Item, len(other.items))
	for _, it := range other.items {
		otherItems[it.Nonce] = it
	}

	var diff []Item
	for _, it := range q.items {
		match, ok := otherItems[it.Nonce]
		if !ok || !match.Request.Identifier.Equal(it.Request.Identifier) || match.NonceGasPrice.Cmp(it.NonceGasPrice) != 0 {
			diff = append(diff, it)
		}
	}
	return diff
}

// CheckInvariants validates the six queue invariants of spec.md §3.
// Callers treat a violation as fatal (spec.md §7): it indicates a bug
// in this package, never bad external input.
func (q *Queue) CheckInvariants() error {
	if uint64(len(q.items)) > q.maxDepth {
		return errors.New("gasqueue: invariant violated: length exceeds max depth")
	}
	var seen []chain.Identifier
	for i, it := range q.items {
		if it.NonceGasPrice.Cmp(it.IdealGasPrice) < 0 {
			return errors.New("gasqueue: invariant violated: nonce_gas_price below ideal_gas_price")
		}
		if i > 0 {
			if q.items[i].Nonce != q.items[i-1].Nonce+1 {
				return errors.New("gasqueue: invariant violated: non-consecutive nonces")
			}
			if q.items[i].IdealGasPrice.Cmp(q.items[i-1].IdealGasPrice) > 0 {
				return errors.New("gasqueue: invariant violated: ideal gas price not descending")
			}
		}
		for _, s := range seen {
			if s.Equal(it.Request.Identifier) {
				return errors.New("gasqueue: invariant violated: duplicate identifier")
			}
		}
		seen = append(seen, it.Request.Identifier)
	}
	if len(q.items) > 0 {
		if q.items[len(q.items)-1].Nonce+1 != q.emptyNonce {
			return errors.New("gasqueue: invariant violated: empty_nonce mismatch")
		}
	}
	if q.replacementRatePercent < 1 || q.maxDepth < 1 {
		return errors.New("gasqueue: invariant violated: configuration out of range")
	}
	return nil
}
