// Package responder implements the Multi-Responder (spec.md §4.5) and
// the Responder Component that binds it to the block state machine
// (spec.md §4.6). It is grounded on the teacher's bridge transaction
// pool (node/sc/bridge_tx_pool.go), which owns one signer's pending
// transactions behind a single mutex and republishes on nonce
// replacement, and on work/worker.go's pattern of reading a gas price
// suggestion before constructing a transaction.
package responder

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/gasprice"
	"github.com/klaytn-watchtower/pisa/gasqueue"
	"github.com/klaytn-watchtower/pisa/logging"
	"github.com/klaytn-watchtower/pisa/metrics"
)

// Appointment is the minimal shape a responder needs to construct and
// track a response transaction for a watched event (spec.md §4.5/§4.6;
// the full appointment lifecycle lives in the intake collaborator,
// outside this module's scope per spec.md's Non-goals).
type Appointment struct {
	ID chain.Hash
	Tx chain.Transaction
}

// Record is the responder's view of one tracked appointment: the
// gas-queue item while it is still queued, or a mined marker once
// txMined fires and before endResponse clears it (spec.md §4.5's
// invariant). The store persists records only in their queued form,
// written by UpdateQueue; the mined marker is kept in memory only.
type Record struct {
	AppointmentID chain.Hash
	Identifier    chain.Identifier
	Item          *gasqueue.Item // nil once mined
	Mined         bool
	MinedBlock    uint64
	MinedNonce    uint64
}

// Store is the persistence boundary a Multi-Responder writes through
// (spec.md §4.7's Responder Store). It is kept narrow here; the
// concrete KV-backed implementation lives in the store package.
type Store interface {
	Load(ctx context.Context) (*gasqueue.Queue, map[chain.Hash]Record, error)
	UpdateQueue(ctx context.Context, newQueue, oldQueue *gasqueue.Queue) error
	RemoveResponse(ctx context.Context, id chain.Hash) error
}

// Broadcaster is the narrow slice of chain.Notifier + chain.Signer the
// responder needs to turn a gas-queue item into a sent transaction.
type Broadcaster struct {
	Notifier chain.Notifier
	Signer   chain.Signer
}

func (b *Broadcaster) broadcast(ctx context.Context, it gasqueue.Item) error {
	tx := &chain.Transaction{
		To:       it.Request.Identifier.To,
		Data:     []byte(it.Request.Identifier.Data),
		Value:    it.Request.Identifier.Value,
		GasLimit: it.Request.Identifier.GasLimit,
		GasPrice: it.NonceGasPrice,
		Nonce:    it.Nonce,
		ChainID:  b.Signer.ChainID(),
		From:     b.Signer.Address(),
	}
	signed, err := b.Signer.Sign(tx)
	if err != nil {
		return fmt.Errorf("responder: sign: %w", err)
	}
	metrics.BroadcastCounter.Inc(1)
	// Failure model (spec.md §5): sendTransaction errors are swallowed;
	// the item stays queued and is retried by the next broadcast path.
	if err := b.Notifier.SendTransaction(ctx, signed); err != nil {
		metrics.BroadcastFailureCounter.Inc(1)
		logging.L.Warnw("broadcast failed, will retry", "appointment", it.Request.AppointmentID, "nonce", it.Nonce, "err", err)
	}
	return nil
}

// Responder is the Multi-Responder of spec.md §4.5: one signing key,
// one nonce counter (the queue's empty_nonce), one estimator, one
// store. All public operations serialise on mu, the "lock keyed by
// signer address" spec.md describes — one Responder owns exactly one
// signer, so a single mutex suffices.
type Responder struct {
	mu sync.Mutex

	queue     *gasqueue.Queue
	records   map[chain.Hash]Record
	estimator gasprice.Estimator
	store     Store
	broadcast *Broadcaster

	lowBalanceThreshold   *big.Int
	confirmationsRequired uint64
}

// Config bundles a Responder's fixed parameters.
type Config struct {
	EmptyNonce             uint64
	ReplacementRatePercent uint64
	MaxDepth               uint64
	LowBalanceThreshold    *big.Int
	ConfirmationsRequired  uint64
}

// New constructs a Responder, loading prior state from the store
// (spec.md §4.7: "On start: load queue and map, seed the in-memory
// state").
func New(ctx context.Context, cfg Config, estimator gasprice.Estimator, store Store, broadcaster *Broadcaster) (*Responder, error) {
	queue, records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("responder: load: %w", err)
	}
	if queue == nil {
		queue, err = gasqueue.New(cfg.EmptyNonce, cfg.ReplacementRatePercent, cfg.MaxDepth)
		if err != nil {
			return nil, err
		}
	}
	if records == nil {
		records = make(map[chain.Hash]Record)
	}
	return &Responder{
		queue:                 queue,
		records:               records,
		estimator:             estimator,
		store:                 store,
		broadcast:             broadcaster,
		lowBalanceThreshold:   cfg.LowBalanceThreshold,
		confirmationsRequired: cfg.ConfirmationsRequired,
	}, nil
}

// Queue returns a snapshot of the current gas queue, safe for
// concurrent read-only iteration per spec.md §5.
func (r *Responder) Queue() *gasqueue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue
}

// StartResponse begins responding to a newly confirmed appointment,
// per spec.md §4.5. On any error the queue and store are left
// untouched.
func (r *Responder) StartResponse(ctx context.Context, appt Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ideal, err := r.estimator.Suggest(ctx)
	if err != nil {
		logging.L.Warnw("gas price estimate failed", "appointment", appt.ID, "err", err)
		return nil
	}

	req := gasqueue.Request{
		AppointmentID: appt.ID,
		Identifier:    chain.IdentifierOf(&appt.Tx),
		IdealGasPrice: ideal,
	}

	newQueue, err := r.queue.Add(req)
	if err != nil {
		return fmt.Errorf("responder: add to queue: %w", err)
	}

	if err := r.store.UpdateQueue(ctx, newQueue, r.queue); err != nil {
		return fmt.Errorf("responder: persist queue: %w", err)
	}

	diff := newQueue.Difference(r.queue)
	r.queue = newQueue
	metrics.QueueDepthGauge.Update(int64(newQueue.Len()))
	if it, ok := itemFor(newQueue, appt.ID); ok {
		r.records[appt.ID] = Record{AppointmentID: appt.ID, Identifier: req.Identifier, Item: &it}
	}

	for _, it := range diff {
		if err := r.broadcast.broadcast(ctx, it); err != nil {
			logging.L.Warnw("broadcast error", "appointment", it.Request.AppointmentID, "err", err)
		}
	}
	return nil
}

func itemFor(q *gasqueue.Queue, id chain.Hash) (gasqueue.Item, bool) {
	for _, it := range q.Items() {
		if it.Request.AppointmentID == id {
			return it, true
		}
	}
	return gasqueue.Item{}, false
}

// TxMined handles an observation that a tracked identifier was mined
// at a given nonce, per spec.md §4.5.
func (r *Responder) TxMined(ctx context.Context, id chain.Identifier, appointmentID chain.Hash, nonce uint64, blockNumber uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.queue.Contains(id) {
		return nil
	}
	head, ok := r.queue.Head()
	if !ok {
		return nil
	}

	var newQueue *gasqueue.Queue
	var err error
	if head.Request.Identifier.Equal(id) {
		if nonce != head.Nonce {
			// Mined at the head's identifier but an unexpected nonce: not
			// modelled by spec.md's scenarios, treat conservatively as a
			// no-op rather than corrupt the queue.
			return nil
		}
		newQueue, err = r.queue.Dequeue()
	} else {
		newQueue, err = r.queue.Consume(id)
	}
	if err != nil {
		return fmt.Errorf("responder: tx mined: %w", err)
	}

	if err := r.store.UpdateQueue(ctx, newQueue, r.queue); err != nil {
		return fmt.Errorf("responder: persist queue: %w", err)
	}

	diff := newQueue.Difference(r.queue)
	r.queue = newQueue
	metrics.QueueDepthGauge.Update(int64(newQueue.Len()))
	r.records[appointmentID] = Record{AppointmentID: appointmentID, Identifier: id, Mined: true, MinedBlock: blockNumber, MinedNonce: nonce}

	for _, it := range diff {
		if err := r.broadcast.broadcast(ctx, it); err != nil {
			logging.L.Warnw("broadcast error", "appointment", it.Request.AppointmentID, "err", err)
		}
	}
	return nil
}

// TrackedAppointments implements the Tracker interface component.go's
// reducer depends on: every appointment this responder still has a
// record for, queued or mined-but-not-yet-ended.
func (r *Responder) TrackedAppointments() []TrackedAppointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrackedAppointment, 0, len(r.records))
	for id, rec := range r.records {
		out = append(out, TrackedAppointment{ID: id, Identifier: rec.Identifier})
	}
	return out
}

// ReEnqueueMissingItems restores appointments that were believed
// pending but have been evicted from the queue (e.g. by a reorg),
// per spec.md §4.5.
func (r *Responder) ReEnqueueMissingItems(ctx context.Context, ids []chain.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lower []gasqueue.Item
	for _, id := range ids {
		rec, ok := r.records[id]
		if !ok || rec.Item == nil {
			return fmt.Errorf("responder: reenqueue: unknown appointment %x", id)
		}
		if r.queue.Contains(rec.Item.Request.Identifier) {
			continue
		}
		lower = append(lower, *rec.Item)
	}
	if len(lower) == 0 {
		return nil
	}

	newQueue, err := r.queue.Prepend(lower)
	if err != nil {
		return fmt.Errorf("responder: prepend: %w", err)
	}

	if err := r.store.UpdateQueue(ctx, newQueue, r.queue); err != nil {
		return fmt.Errorf("responder: persist queue: %w", err)
	}

	diff := newQueue.Difference(r.queue)
	r.queue = newQueue
	metrics.QueueDepthGauge.Update(int64(newQueue.Len()))

	for _, it := range diff {
		if err := r.broadcast.broadcast(ctx, it); err != nil {
			logging.L.Warnw("broadcast error", "appointment", it.Request.AppointmentID, "err", err)
		}
	}
	return nil
}

// EndResponse forgets an appointment entirely, called once
// confirmations_required has elapsed past the mining block.
func (r *Responder) EndResponse(ctx context.Context, appointmentID chain.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.RemoveResponse(ctx, appointmentID); err != nil {
		return fmt.Errorf("responder: remove response: %w", err)
	}
	delete(r.records, appointmentID)
	return nil
}

// CheckBalance reads the signer's balance and reports whether it is
// below the configured low-water mark, per spec.md §4.5.
func (r *Responder) CheckBalance(ctx context.Context) (balance *big.Int, low bool, err error) {
	balance, err = r.broadcast.Notifier.GetBalance(ctx, r.broadcast.Signer.Address())
	if err != nil {
		return nil, false, fmt.Errorf("responder: check balance: %w", err)
	}
	low = r.lowBalanceThreshold != nil && balance.Cmp(r.lowBalanceThreshold) < 0
	if low {
		metrics.LowBalanceCounter.Inc(1)
		logging.L.Warnw("signer balance below threshold", "signer", r.broadcast.Signer.Address(), "balance", balance, "threshold", r.lowBalanceThreshold)
	}
	return balance, low, nil
}
