package store_test

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/gasqueue"
	"github.com/klaytn-watchtower/pisa/kvstore"
	"github.com/klaytn-watchtower/pisa/store"
)

func openDB(t *testing.T) kvstore.Database {
	t.Helper()
	db, err := kvstore.OpenLevelDB(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ident(n byte) chain.Identifier {
	return chain.Identifier{
		ChainID:  big.NewInt(1337),
		Data:     "payload",
		To:       common.BytesToAddress([]byte{n}),
		Value:    big.NewInt(int64(n)),
		GasLimit: 21000,
	}
}

func TestStore_LoadEmptyYieldsFreshQueue(t *testing.T) {
	db := openDB(t)
	s := store.New(db, common.BytesToAddress([]byte{1}), 0, 15, 10)

	q, records, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, records)
}

func TestStore_UpdateQueueRoundTrips(t *testing.T) {
	db := openDB(t)
	addr := common.BytesToAddress([]byte{2})
	s := store.New(db, addr, 0, 15, 10)

	ctx := context.Background()
	q0, records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	appt1 := chain.Hash(common.BytesToHash([]byte{0xA1}))
	req1 := gasqueue.Request{AppointmentID: appt1, Identifier: ident(1), IdealGasPrice: big.NewInt(100)}
	q1, err := q0.Add(req1)
	require.NoError(t, err)

	require.NoError(t, s.UpdateQueue(ctx, q1, q0))

	// Reopen via a fresh Store over the same db to verify the queue
	// was actually persisted, not just cached in-process.
	s2 := store.New(db, addr, 0, 15, 10)
	loaded, records2, err := s2.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	head, ok := loaded.Head()
	require.True(t, ok)
	assert.True(t, head.Request.Identifier.Equal(ident(1)))
	assert.Equal(t, uint64(0), head.Nonce)
	assert.Equal(t, 0, head.NonceGasPrice.Cmp(big.NewInt(100)))

	require.NoError(t, loaded.CheckInvariants())

	require.Len(t, records2, 1)
	rec, ok := records2[appt1]
	require.True(t, ok)
	require.NotNil(t, rec.Item)
	assert.True(t, rec.Identifier.Equal(ident(1)))
}

func TestStore_UpdateQueueOnlyWritesDiffItems(t *testing.T) {
	db := openDB(t)
	addr := common.BytesToAddress([]byte{3})
	s := store.New(db, addr, 0, 15, 10)
	ctx := context.Background()

	q0, _, err := s.Load(ctx)
	require.NoError(t, err)

	appt1 := chain.Hash(common.BytesToHash([]byte{0xB1}))
	appt2 := chain.Hash(common.BytesToHash([]byte{0xB2}))

	q1, err := q0.Add(gasqueue.Request{AppointmentID: appt1, Identifier: ident(10), IdealGasPrice: big.NewInt(100)})
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueue(ctx, q1, q0))

	// Second item priced lower: appends at tail, does not disturb appt1.
	q2, err := q1.Add(gasqueue.Request{AppointmentID: appt2, Identifier: ident(20), IdealGasPrice: big.NewInt(50)})
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueue(ctx, q2, q1))

	_, records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[appt1].Identifier.Equal(ident(10)))
	assert.True(t, records[appt2].Identifier.Equal(ident(20)))
}

func TestStore_RemoveResponseDeletesRecord(t *testing.T) {
	db := openDB(t)
	addr := common.BytesToAddress([]byte{4})
	s := store.New(db, addr, 0, 15, 10)
	ctx := context.Background()

	q0, _, err := s.Load(ctx)
	require.NoError(t, err)

	appt1 := chain.Hash(common.BytesToHash([]byte{0xC1}))
	q1, err := q0.Add(gasqueue.Request{AppointmentID: appt1, Identifier: ident(30), IdealGasPrice: big.NewInt(100)})
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueue(ctx, q1, q0))

	require.NoError(t, s.RemoveResponse(ctx, appt1))

	_, records, err := s.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, records, appt1)
}

func TestStore_DequeueClearsDiffedItem(t *testing.T) {
	db := openDB(t)
	addr := common.BytesToAddress([]byte{5})
	s := store.New(db, addr, 0, 15, 10)
	ctx := context.Background()

	appt1 := chain.Hash(common.BytesToHash([]byte{0xD1}))
	q0, _, err := s.Load(ctx)
	require.NoError(t, err)

	req := gasqueue.Request{AppointmentID: appt1, Identifier: ident(40), IdealGasPrice: big.NewInt(100)}
	q1, err := q0.Add(req)
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueue(ctx, q1, q0))

	q2, err := q1.Dequeue()
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueue(ctx, q2, q1))

	persisted, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, persisted.Len())
}
