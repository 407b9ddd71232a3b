package responder_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/gasprice"
	"github.com/klaytn-watchtower/pisa/gasqueue"
	"github.com/klaytn-watchtower/pisa/responder"
)

// memStore is a trivial in-memory responder.Store used only by tests;
// the real KV-backed implementation lives in the store package.
type memStore struct {
	queue   *gasqueue.Queue
	records map[chain.Hash]responder.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[chain.Hash]responder.Record)}
}

func (s *memStore) Load(ctx context.Context) (*gasqueue.Queue, map[chain.Hash]responder.Record, error) {
	return s.queue, s.records, nil
}

func (s *memStore) UpdateQueue(ctx context.Context, newQueue, oldQueue *gasqueue.Queue) error {
	s.queue = newQueue
	return nil
}

func (s *memStore) RemoveResponse(ctx context.Context, id chain.Hash) error {
	delete(s.records, id)
	return nil
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestResponder(t *testing.T, notifier *chain.FakeNotifier, signer chain.Signer) (*responder.Responder, *memStore) {
	t.Helper()
	store := newMemStore()
	cfg := responder.Config{
		EmptyNonce:             0,
		ReplacementRatePercent: 15,
		MaxDepth:               5,
		LowBalanceThreshold:    big.NewInt(1000),
		ConfirmationsRequired:  3,
	}
	r, err := responder.New(context.Background(), cfg, gasprice.Fixed{Price: big.NewInt(100)}, store, &responder.Broadcaster{
		Notifier: notifier,
		Signer:   signer,
	})
	require.NoError(t, err)
	return r, store
}

func TestStartResponse_BroadcastsOnce(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))

	r, store := newTestResponder(t, notifier, signer)

	appt := responder.Appointment{
		ID: chain.Hash{1},
		Tx: chain.Transaction{To: chain.Address{9}, GasLimit: 21000, Value: big.NewInt(0), ChainID: big.NewInt(1)},
	}
	require.NoError(t, r.StartResponse(context.Background(), appt))

	assert.Equal(t, 1, r.Queue().Len())
	assert.Len(t, notifier.Sent(), 1)
	assert.NotNil(t, store.queue)
	assert.Equal(t, 1, store.queue.Len())
}

func TestTxMined_AtHead_Dequeues(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))
	r, _ := newTestResponder(t, notifier, signer)

	appt := responder.Appointment{ID: chain.Hash{1}, Tx: chain.Transaction{To: chain.Address{9}, Value: big.NewInt(0), ChainID: big.NewInt(1)}}
	require.NoError(t, r.StartResponse(context.Background(), appt))

	id := chain.IdentifierOf(&appt.Tx)
	require.NoError(t, r.TxMined(context.Background(), id, appt.ID, 0, 5))

	assert.Equal(t, 0, r.Queue().Len())
}

func TestTxMined_NotAtHead_Consumes(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))
	r, _ := newTestResponder(t, notifier, signer)

	a1 := responder.Appointment{ID: chain.Hash{1}, Tx: chain.Transaction{To: chain.Address{1}, Value: big.NewInt(0), ChainID: big.NewInt(1)}}
	a2 := responder.Appointment{ID: chain.Hash{2}, Tx: chain.Transaction{To: chain.Address{2}, Value: big.NewInt(0), ChainID: big.NewInt(1)}}
	require.NoError(t, r.StartResponse(context.Background(), a1))
	require.NoError(t, r.StartResponse(context.Background(), a2))
	require.Equal(t, 2, r.Queue().Len())

	id2 := chain.IdentifierOf(&a2.Tx)
	require.NoError(t, r.TxMined(context.Background(), id2, a2.ID, 1, 5))

	assert.Equal(t, 1, r.Queue().Len())
	head, ok := r.Queue().Head()
	require.True(t, ok)
	assert.True(t, head.Request.Identifier.Equal(chain.IdentifierOf(&a1.Tx)))
}

func TestEndResponse_RemovesRecord(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))
	r, store := newTestResponder(t, notifier, signer)

	appt := responder.Appointment{ID: chain.Hash{1}, Tx: chain.Transaction{To: chain.Address{9}, Value: big.NewInt(0), ChainID: big.NewInt(1)}}
	require.NoError(t, r.StartResponse(context.Background(), appt))

	require.NoError(t, r.EndResponse(context.Background(), appt.ID))
	_, tracked := store.records[appt.ID]
	assert.False(t, tracked)
}

func TestCheckBalance_Low(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))
	notifier.SetBalance(signer.Address(), big.NewInt(1))

	r, _ := newTestResponder(t, notifier, signer)
	balance, low, err := r.CheckBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, low)
	assert.Equal(t, 0, balance.Cmp(big.NewInt(1)))
}

func TestReEnqueueMissingItems_UnknownErrors(t *testing.T) {
	genesis := &chain.Block{Hash: chain.Hash{0}, Number: 0}
	notifier := chain.NewFakeNotifier(genesis)
	signer := chain.NewLocalSigner(testKey(t), big.NewInt(1))
	r, _ := newTestResponder(t, notifier, signer)

	err := r.ReEnqueueMissingItems(context.Background(), []chain.Hash{{99}})
	assert.Error(t, err)
}
