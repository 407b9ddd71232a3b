// Package store implements the Responder Store of spec.md §4.7: a
// kvstore.Database-backed persistence layer for one signer's gas
// queue and its per-appointment records. It is grounded on the
// teacher's databaseManager (storage/database/db_manager.go), which
// RLP-encodes domain structs before Put/batch.Put and decodes them
// back with rlp.DecodeBytes, keyed by a fixed prefix plus an address
// or hash suffix exactly as this package's key scheme does.
package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/gasqueue"
	"github.com/klaytn-watchtower/pisa/kvstore"
	"github.com/klaytn-watchtower/pisa/responder"
)

// Store persists one signer's queue and appointment records in a
// kvstore.Database, under keys prefixed `responder:{address}:`.
type Store struct {
	db      kvstore.Database
	address chain.Address

	emptyNonce             uint64
	replacementRatePercent uint64
	maxDepth               uint64
}

// New constructs a Store for a given signer address and the queue's
// fixed configuration (needed to reconstruct an empty queue when none
// has been persisted yet).
func New(db kvstore.Database, address chain.Address, emptyNonce, replacementRatePercent, maxDepth uint64) *Store {
	return &Store{
		db:                     db,
		address:                address,
		emptyNonce:             emptyNonce,
		replacementRatePercent: replacementRatePercent,
		maxDepth:               maxDepth,
	}
}

func (s *Store) queueKey() []byte {
	return []byte(fmt.Sprintf("responder:%x:queue", s.address))
}

func (s *Store) recordPrefix() []byte {
	return []byte(fmt.Sprintf("responder:%x:item:", s.address))
}

func (s *Store) recordKey(id chain.Hash) []byte {
	return append(s.recordPrefix(), id[:]...)
}

// rlpIdentifier mirrors chain.Identifier's RLP-encodable shape,
// matching spec.md §6's gas-queue serialisation contract field order.
type rlpIdentifier struct {
	ChainID  *big.Int
	Data     string
	To       chain.Address
	Value    *big.Int
	GasLimit uint64
}

func toRLPIdentifier(id chain.Identifier) rlpIdentifier {
	return rlpIdentifier{ChainID: id.ChainID, Data: id.Data, To: id.To, Value: id.Value, GasLimit: id.GasLimit}
}

func (r rlpIdentifier) toIdentifier() chain.Identifier {
	return chain.Identifier{ChainID: r.ChainID, Data: r.Data, To: r.To, Value: r.Value, GasLimit: r.GasLimit}
}

// rlpItem mirrors gasqueue.Item plus the appointment id spec.md §6
// groups alongside it ("{appointment_id, identifier:{...},
// ideal_gas_price, nonce_gas_price, nonce, response_data}").
type rlpItem struct {
	AppointmentID chain.Hash
	Identifier    rlpIdentifier
	IdealGasPrice *big.Int
	NonceGasPrice *big.Int
	Nonce         uint64
	ResponseData  []byte
}

func toRLPItem(it gasqueue.Item) rlpItem {
	return rlpItem{
		AppointmentID: it.Request.AppointmentID,
		Identifier:    toRLPIdentifier(it.Request.Identifier),
		IdealGasPrice: it.IdealGasPrice,
		NonceGasPrice: it.NonceGasPrice,
		Nonce:         it.Nonce,
		ResponseData:  it.Request.ResponseData,
	}
}

func (r rlpItem) toItem() gasqueue.Item {
	return gasqueue.Item{
		Request: gasqueue.Request{
			AppointmentID: r.AppointmentID,
			Identifier:    r.Identifier.toIdentifier(),
			IdealGasPrice: r.IdealGasPrice,
			ResponseData:  r.ResponseData,
		},
		IdealGasPrice: r.IdealGasPrice,
		NonceGasPrice: r.NonceGasPrice,
		Nonce:         r.Nonce,
	}
}

// rlpQueue is the on-disk encoding of a whole gasqueue.Queue.
type rlpQueue struct {
	Items                  []rlpItem
	EmptyNonce             uint64
	ReplacementRatePercent uint64
	MaxDepth               uint64
}

func encodeQueue(q *gasqueue.Queue) ([]byte, error) {
	items := q.Items()
	rlpItems := make([]rlpItem, len(items))
	for i, it := range items {
		rlpItems[i] = toRLPItem(it)
	}
	return rlp.EncodeToBytes(&rlpQueue{
		Items:                  rlpItems,
		EmptyNonce:             q.EmptyNonce(),
		ReplacementRatePercent: q.ReplacementRatePercent(),
		MaxDepth:               q.MaxDepth(),
	})
}

func decodeQueue(data []byte) (*gasqueue.Queue, error) {
	var raw rlpQueue
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, err
	}
	items := make([]gasqueue.Item, len(raw.Items))
	for i, it := range raw.Items {
		items[i] = it.toItem()
	}
	return gasqueue.FromItems(items, raw.EmptyNonce, raw.ReplacementRatePercent, raw.MaxDepth)
}

// rlpRecord is the on-disk encoding of one responder.Record.
type rlpRecord struct {
	AppointmentID chain.Hash
	Identifier    rlpIdentifier
	HasItem       bool
	Item          rlpItem
	Mined         bool
	MinedBlock    uint64
	MinedNonce    uint64
}

func encodeRecord(rec responder.Record) ([]byte, error) {
	out := rlpRecord{
		AppointmentID: rec.AppointmentID,
		Identifier:    toRLPIdentifier(rec.Identifier),
		Mined:         rec.Mined,
		MinedBlock:    rec.MinedBlock,
		MinedNonce:    rec.MinedNonce,
	}
	if rec.Item != nil {
		out.HasItem = true
		out.Item = toRLPItem(*rec.Item)
	}
	return rlp.EncodeToBytes(&out)
}

func decodeRecord(data []byte) (responder.Record, error) {
	var raw rlpRecord
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return responder.Record{}, err
	}
	rec := responder.Record{
		AppointmentID: raw.AppointmentID,
		Identifier:    raw.Identifier.toIdentifier(),
		Mined:         raw.Mined,
		MinedBlock:    raw.MinedBlock,
		MinedNonce:    raw.MinedNonce,
	}
	if raw.HasItem {
		item := raw.Item.toItem()
		rec.Item = &item
	}
	return rec, nil
}

// Load implements responder.Store: reconstructs the queue and record
// map from disk, or returns a fresh empty queue if none was persisted
// (spec.md §4.7: "On start: load queue and map, seed the in-memory
// state").
func (s *Store) Load(ctx context.Context) (*gasqueue.Queue, map[chain.Hash]responder.Record, error) {
	queue, err := s.loadQueue()
	if err != nil {
		return nil, nil, err
	}
	records, err := s.loadRecords()
	if err != nil {
		return nil, nil, err
	}
	return queue, records, nil
}

func (s *Store) loadQueue() (*gasqueue.Queue, error) {
	data, err := s.db.Get(s.queueKey())
	if err == kvstore.ErrNotFound {
		return gasqueue.New(s.emptyNonce, s.replacementRatePercent, s.maxDepth)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load queue: %w", err)
	}
	q, err := decodeQueue(data)
	if err != nil {
		return nil, fmt.Errorf("store: decode queue: %w", err)
	}
	return q, nil
}

func (s *Store) loadRecords() (map[chain.Hash]responder.Record, error) {
	records := make(map[chain.Hash]responder.Record)
	it := s.db.NewIteratorWithPrefix(s.recordPrefix())
	defer it.Release()

	for it.Next() {
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		records[rec.AppointmentID] = rec
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return records, nil
}

// UpdateQueue implements responder.Store: computes the diff against
// the previously-persisted queue and writes the new queue plus one
// entry per diff item in a single atomic batch (spec.md §4.7).
func (s *Store) UpdateQueue(ctx context.Context, newQueue, oldQueue *gasqueue.Queue) error {
	data, err := encodeQueue(newQueue)
	if err != nil {
		return fmt.Errorf("store: encode queue: %w", err)
	}

	batch := s.db.NewBatch()
	if err := batch.Put(s.queueKey(), data); err != nil {
		return fmt.Errorf("store: stage queue write: %w", err)
	}

	for _, it := range newQueue.Difference(oldQueue) {
		rec := responder.Record{AppointmentID: it.Request.AppointmentID, Identifier: it.Request.Identifier, Item: &it}
		recData, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("store: encode record %x: %w", it.Request.AppointmentID, err)
		}
		if err := batch.Put(s.recordKey(it.Request.AppointmentID), recData); err != nil {
			return fmt.Errorf("store: stage record write %x: %w", it.Request.AppointmentID, err)
		}
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}

// RemoveResponse implements responder.Store: deletes one appointment's
// record entirely (spec.md §4.7).
func (s *Store) RemoveResponse(ctx context.Context, id chain.Hash) error {
	if err := s.db.Delete(s.recordKey(id)); err != nil {
		return fmt.Errorf("store: delete record %x: %w", id, err)
	}
	return nil
}
