package responder

import (
	"context"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/statemachine"
)

// AppointmentState is one appointment's per-block reduction, per
// spec.md §4.6: Pending until a transaction matching its identifier
// and sent from the signer address appears in an ancestor block, then
// Mined (and never downgraded while that block remains an ancestor).
type AppointmentState struct {
	Identifier chain.Identifier
	Pending    bool
	Mined      bool

	BlockMined uint64
	Nonce      uint64
}

// BlockState is the Responder Component's full per-block state: the
// reduction for every appointment the responder is tracking, plus the
// block's own height (needed to compute confirmation depth in
// DetectChanges).
type BlockState struct {
	BlockNumber uint64
	Items       map[chain.Hash]AppointmentState
}

// TrackedAppointment is the Responder Component's view of one
// appointment: its identity and the identifier a mined transaction
// must match.
type TrackedAppointment struct {
	ID         chain.Hash
	Identifier chain.Identifier
}

// Tracker supplies the set of appointments currently being responded
// to, so the reducer knows what to look for in each block. It is
// satisfied by the Responder's own bookkeeping.
type Tracker interface {
	TrackedAppointments() []TrackedAppointment
}

// ReEnqueueMissingItemsAction is emitted once per head transition for
// every appointment the reducer currently reports Pending, per spec.md
// §4.6 rule 1.
type ReEnqueueMissingItemsAction struct {
	AppointmentIDs []chain.Hash
}

// TxMinedAction is emitted for an appointment's Pending -> Mined
// transition, per spec.md §4.6 rule 2.
type TxMinedAction struct {
	AppointmentID chain.Hash
	Identifier    chain.Identifier
	Nonce         uint64
	BlockNumber   uint64
}

// CheckResponderBalanceAction accompanies every TxMinedAction, per
// spec.md §4.6 rule 2.
type CheckResponderBalanceAction struct{}

// EndResponseAction is emitted once an appointment's mined block has
// accumulated more than confirmations_required confirmations, per
// spec.md §4.6 rule 3.
type EndResponseAction struct {
	AppointmentID chain.Hash
}

// CacheBlockSource is the narrow blockcache.Cache surface the reducer
// needs: ancestry walking to find a matching mined transaction.
type CacheBlockSource interface {
	Ancestry(hash chain.Hash) []*chain.Block
}

// NewComponent builds the statemachine.Component binding spec.md §4.6
// describes, closing over the signer address it matches transactions
// against, the cache it walks ancestry through, the tracker supplying
// live appointments, and confirmationsRequired.
func NewComponent(name string, signer chain.Address, cache CacheBlockSource, tracker Tracker, confirmationsRequired uint64) statemachine.Component {
	reduce := func(block *chain.Block) BlockState {
		items := make(map[chain.Hash]AppointmentState)
		for _, appt := range tracker.TrackedAppointments() {
			items[appt.ID] = reduceOne(cache, block, signer, appt)
		}
		return BlockState{BlockNumber: block.Number, Items: items}
	}

	return statemachine.Component{
		Name: name,
		InitialState: func(b *chain.Block) interface{} {
			return reduce(b)
		},
		Reduce: func(prev interface{}, b *chain.Block) interface{} {
			// The reducer recomputes from scratch rather than folding
			// prev forward: matching requires walking ancestry, which
			// is cheap against a bounded, cached depth and avoids
			// tracking a separate "have we seen this mined" bit that
			// could drift from the cache's own pruning.
			return reduce(b)
		},
		DetectChanges: func(prevI, nextI interface{}) []statemachine.Action {
			prev, _ := prevI.(BlockState)
			next, _ := nextI.(BlockState)
			return detectChanges(prev, next, confirmationsRequired)
		},
		ApplyAction: func(ctx context.Context, a statemachine.Action) error {
			return nil // overridden by callers via a wrapping component; see Bind.
		},
	}
}

func reduceOne(cache CacheBlockSource, block *chain.Block, signer chain.Address, appt TrackedAppointment) AppointmentState {
	for _, ancestor := range cache.Ancestry(block.Hash) {
		for _, tx := range ancestor.Transactions {
			if tx.From != signer {
				continue
			}
			if !chain.IdentifierOf(tx).Equal(appt.Identifier) {
				continue
			}
			return AppointmentState{Identifier: appt.Identifier, Mined: true, BlockMined: ancestor.Number, Nonce: tx.Nonce}
		}
	}
	return AppointmentState{Identifier: appt.Identifier, Pending: true}
}

func detectChanges(prev, next BlockState, confirmationsRequired uint64) []statemachine.Action {
	var actions []statemachine.Action

	var pendingIDs []chain.Hash
	for id, st := range next.Items {
		if st.Pending {
			pendingIDs = append(pendingIDs, id)
		}
	}
	if len(pendingIDs) > 0 {
		actions = append(actions, ReEnqueueMissingItemsAction{AppointmentIDs: pendingIDs})
	}

	for id, nextSt := range next.Items {
		prevSt, hadPrev := prev.Items[id]
		justMined := nextSt.Mined && (!hadPrev || !prevSt.Mined)
		if justMined {
			actions = append(actions, TxMinedAction{
				AppointmentID: id,
				Identifier:    nextSt.Identifier,
				Nonce:         nextSt.Nonce,
				BlockNumber:   nextSt.BlockMined,
			})
			actions = append(actions, CheckResponderBalanceAction{})
		}
		if !nextSt.Mined {
			continue
		}
		depth := next.BlockNumber - nextSt.BlockMined
		metNow := depth > confirmationsRequired
		metBefore := hadPrev && prevSt.Mined && (prev.BlockNumber-prevSt.BlockMined) > confirmationsRequired
		if metNow && !metBefore {
			actions = append(actions, EndResponseAction{AppointmentID: id})
		}
	}

	return actions
}

// Bind wires a Responder's methods as the ApplyAction dispatch table
// spec.md §4.6 describes ("apply_action(a) dispatches to the
// corresponding multi-responder method"), returning a component ready
// to register with a statemachine.Machine.
func Bind(name string, signer chain.Address, cache CacheBlockSource, tracker Tracker, confirmationsRequired uint64, r *Responder) statemachine.Component {
	c := NewComponent(name, signer, cache, tracker, confirmationsRequired)
	c.ApplyAction = func(ctx context.Context, a statemachine.Action) error {
		switch action := a.(type) {
		case ReEnqueueMissingItemsAction:
			return r.ReEnqueueMissingItems(ctx, action.AppointmentIDs)
		case TxMinedAction:
			return r.TxMined(ctx, action.Identifier, action.AppointmentID, action.Nonce, action.BlockNumber)
		case CheckResponderBalanceAction:
			_, _, err := r.CheckBalance(ctx)
			return err
		case EndResponseAction:
			return r.EndResponse(ctx, action.AppointmentID)
		default:
			return nil
		}
	}
	return c
}
