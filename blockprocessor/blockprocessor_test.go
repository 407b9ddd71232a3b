package blockprocessor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/blockcache"
	"github.com/klaytn-watchtower/pisa/blockprocessor"
	"github.com/klaytn-watchtower/pisa/chain"
)

func blk(n byte, number uint64, parent byte) *chain.Block {
	return &chain.Block{
		Hash:       chain.Hash{n},
		Number:     number,
		ParentHash: chain.Hash{parent},
	}
}

func TestProcessor_PrimeAndBackfill(t *testing.T) {
	g := blk(0, 0, 0)
	notifier := chain.NewFakeNotifier(g)

	cache, err := blockcache.New(10, 0)
	require.NoError(t, err)

	p := blockprocessor.New(notifier, cache, 10)
	require.NoError(t, p.Prime(context.Background()))

	b1 := blk(1, 1, 0)
	b2 := blk(2, 2, 1)
	// b1 reaches the notifier before Run subscribes, so only height 2 is
	// notified: the processor must walk back through b1 to close the gap.
	notifier.AddBlock(b1)

	blocks := make(chan blockprocessor.NewBlockEvent, 16)
	heads := make(chan blockprocessor.NewHeadEvent, 16)
	p.SubscribeNewBlock(blocks)
	p.SubscribeNewHead(heads)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let Run's Subscribe register before we notify

	notifier.AddBlock(b2)

	var gotBlocks []chain.Hash
	var gotHead blockprocessor.NewHeadEvent
	timeout := time.After(2 * time.Second)
	for len(gotBlocks) < 2 {
		select {
		case ev := <-blocks:
			gotBlocks = append(gotBlocks, ev.Block.Hash)
		case <-timeout:
			t.Fatal("timed out waiting for block events")
		}
	}
	select {
	case gotHead = <-heads:
	case <-timeout:
		t.Fatal("timed out waiting for head event")
	}

	assert.Equal(t, []chain.Hash{b1.Hash, b2.Hash}, gotBlocks)
	assert.Equal(t, b2.Hash, gotHead.Hash)
	assert.EqualValues(t, 2, gotHead.Number)

	cancel()
	<-done
}

func TestProcessor_BackfillExceedsLimitErrors(t *testing.T) {
	g := blk(0, 0, 0)
	notifier := chain.NewFakeNotifier(g)
	cache, err := blockcache.New(10, 0)
	require.NoError(t, err)

	p := blockprocessor.New(notifier, cache, 0)
	require.NoError(t, p.Prime(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	b1 := blk(1, 1, 0)
	b2 := blk(2, 2, 1)
	notifier.AddBlock(b1)
	notifier.AddBlock(b2)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return an error")
	}
}
