package gasqueue_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/gasqueue"
)

func ident(n byte) chain.Identifier {
	return chain.Identifier{
		ChainID:  big.NewInt(1),
		Data:     string([]byte{n}),
		To:       chain.Address{n},
		Value:    big.NewInt(0),
		GasLimit: 21000,
	}
}

func req(appointmentByte byte, ideal int64) gasqueue.Request {
	return gasqueue.Request{
		AppointmentID: chain.Hash{appointmentByte},
		Identifier:    ident(appointmentByte),
		IdealGasPrice: big.NewInt(ideal),
	}
}

// Scenario A: single appointment happy path.
func TestAdd_SingleAppointment(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)

	q2, err := q.Add(req(1, 100))
	require.NoError(t, err)
	require.Equal(t, 1, q2.Len())

	head, ok := q2.Head()
	require.True(t, ok)
	assert.EqualValues(t, 0, head.Nonce)
	assert.Equal(t, big.NewInt(100), head.NonceGasPrice)

	diff := q2.Difference(q)
	require.Len(t, diff, 1)
	assert.True(t, diff[0].Request.Identifier.Equal(ident(1)))
}

// Scenario B: insertion with replacement.
func TestAdd_InsertionWithReplacement(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)

	q, err = q.Add(req(1, 100))
	require.NoError(t, err)
	q, err = q.Add(req(2, 90))
	require.NoError(t, err)
	require.NoError(t, q.CheckInvariants())

	q2, err := q.Add(req(3, 110))
	require.NoError(t, err)
	require.NoError(t, q2.CheckInvariants())

	items := q2.Items()
	require.Len(t, items, 3)

	assert.EqualValues(t, 0, items[0].Nonce)
	assert.True(t, items[0].Request.Identifier.Equal(ident(3)))
	assert.Equal(t, 0, items[0].NonceGasPrice.Cmp(big.NewInt(115)))

	assert.EqualValues(t, 1, items[1].Nonce)
	assert.True(t, items[1].Request.Identifier.Equal(ident(1)))
	assert.Equal(t, 0, items[1].NonceGasPrice.Cmp(big.NewInt(115)))

	assert.EqualValues(t, 2, items[2].Nonce)
	assert.True(t, items[2].Request.Identifier.Equal(ident(2)))
	assert.Equal(t, 0, items[2].NonceGasPrice.Cmp(big.NewInt(104)))

	diff := q2.Difference(q)
	assert.Len(t, diff, 3)
}

// Scenario C: mining not at head.
func TestConsume_NotAtHead(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	q, err = q.Add(req(1, 100))
	require.NoError(t, err)
	q, err = q.Add(req(2, 90))
	require.NoError(t, err)
	q, err = q.Add(req(3, 80))
	require.NoError(t, err)
	require.NoError(t, q.CheckInvariants())

	q2, err := q.Consume(ident(2))
	require.NoError(t, err)
	require.NoError(t, q2.CheckInvariants())

	items := q2.Items()
	require.Len(t, items, 2)
	assert.True(t, items[0].Request.Identifier.Equal(ident(1)))
	assert.EqualValues(t, 1, items[0].Nonce)
	assert.True(t, items[1].Request.Identifier.Equal(ident(3)))
	assert.EqualValues(t, 2, items[1].Nonce)
}

func TestDequeue_Head(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	q, err = q.Add(req(1, 100))
	require.NoError(t, err)

	q2, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 0, q2.Len())
	assert.EqualValues(t, 1, q2.EmptyNonce())
}

// Scenario E: depth limit.
func TestAdd_DepthExceeded(t *testing.T) {
	q, err := gasqueue.New(0, 15, 3)
	require.NoError(t, err)
	q, err = q.Add(req(1, 100))
	require.NoError(t, err)
	q, err = q.Add(req(2, 90))
	require.NoError(t, err)
	q, err = q.Add(req(3, 80))
	require.NoError(t, err)

	_, err = q.Add(req(4, 70))
	assert.ErrorIs(t, err, gasqueue.ErrDepthExceeded)
	assert.Equal(t, 3, q.Len())
}

func TestPrepend_ReorgEviction(t *testing.T) {
	q, err := gasqueue.New(2, 15, 5)
	require.NoError(t, err)
	q, err = q.Add(req(3, 80)) // nonce 2
	require.NoError(t, err)

	lower := []gasqueue.Item{{
		Request:       req(1, 100),
		IdealGasPrice: big.NewInt(100),
		NonceGasPrice: big.NewInt(100),
		Nonce:         1,
	}}

	q2, err := q.Prepend(lower)
	require.NoError(t, err)
	require.NoError(t, q2.CheckInvariants())
	assert.Equal(t, 2, q2.Len())

	diff := q2.Difference(q)
	require.Len(t, diff, 1)
	assert.True(t, diff[0].Request.Identifier.Equal(ident(1)))
}

func TestPrepend_NoOpWhenEmpty(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	q2, err := q.Prepend(nil)
	require.NoError(t, err)
	assert.Same(t, q, q2)
}

func TestAdd_Immutable(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	q2, err := q.Add(req(1, 100))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q2.Len())
}

func TestConsume_UnknownIdentifier(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	_, err = q.Consume(ident(9))
	assert.ErrorIs(t, err, gasqueue.ErrUnknownIdentifier)
}

func TestDifference_Antisymmetric(t *testing.T) {
	q, err := gasqueue.New(0, 15, 5)
	require.NoError(t, err)
	a, err := q.Add(req(1, 100))
	require.NoError(t, err)
	b, err := q.Add(req(2, 90))
	require.NoError(t, err)

	left := a.Difference(b)
	right := b.Difference(a)
	for _, l := range left {
		for _, r := range right {
			assert.False(t, l.Request.Identifier.Equal(r.Request.Identifier) && l.Nonce == r.Nonce)
		}
	}
}
